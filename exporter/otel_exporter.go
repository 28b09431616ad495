package exporter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

// OTelExporter bridges completed sampling runs into OpenTelemetry traces:
// each delivered profile becomes one span spanning the run, carrying its
// sample and module counts as attributes. The raw profile payload stays in
// whatever other sink the pipeline uses; the span gives the run a place in
// the service's trace timeline.
type OTelExporter struct {
	tracer trace.Tracer
	logger *logrus.Logger
}

var _ domain.ProfileSink = (*OTelExporter)(nil)

// NewOTelExporter creates an exporter emitting spans through tp.
func NewOTelExporter(tp trace.TracerProvider, logger *logrus.Logger) *OTelExporter {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &OTelExporter{
		tracer: tp.Tracer("github.com/fllarpy/stackprobe/exporter"),
		logger: logger,
	}
}

// Deliver emits one span for the sampling run. It runs on the sampling
// worker; span creation is non-blocking.
func (e *OTelExporter) Deliver(p *profile.Profile) {
	end := time.Now()
	start := end.Add(-p.ProfileDuration)

	_, span := e.tracer.Start(context.Background(), "stackprobe.sampling_run",
		trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.Int("stackprobe.samples", len(p.Samples)),
		attribute.Int("stackprobe.modules", len(p.Modules)),
		attribute.Int64("stackprobe.duration_ns", int64(p.ProfileDuration)),
		attribute.Int64("stackprobe.sampling_interval_ns", int64(p.SamplingInterval)),
		attribute.Bool("stackprobe.preserve_sample_ordering", p.PreserveSampleOrdering),
	)
	span.End(trace.WithTimestamp(end))

	e.logger.WithField("samples", len(p.Samples)).Debug("sampling run reported to tracer")
}

// NewResource builds the OpenTelemetry resource describing the embedding
// service, merged with the environment defaults.
func NewResource(serviceName, serviceVersion string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
}
