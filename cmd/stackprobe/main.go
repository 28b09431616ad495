// Command stackprobe runs a self-contained demonstration: a tagged
// worker goroutine performs jobs while sampling runs capture its stacks.
// Finished profiles are written as pprof files, emitted as trace spans
// and served over HTTP as JSON summaries.
package main

import (
	"context"
	"crypto/sha256"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	stackprobe "github.com/fllarpy/stackprobe"
	"github.com/fllarpy/stackprobe/config"
	"github.com/fllarpy/stackprobe/domain/profile"
	"github.com/fllarpy/stackprobe/exporter"
	"github.com/fllarpy/stackprobe/infrastructure/storage/inmemory"
	"github.com/fllarpy/stackprobe/internal/ports/http_reporter"
	"github.com/fllarpy/stackprobe/profiling"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	res, err := exporter.NewResource(cfg.ServiceName, "dev")
	if err != nil {
		log.Fatalf("failed to build resource: %v", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	defer tp.Shutdown(context.Background())

	spans := exporter.NewOTelExporter(tp, logger)
	files := exporter.NewPprofExporter("./profiles", logger)
	store := inmemory.NewStore()

	trigger := profiling.NewTrigger(profiling.Config{
		Enabled:          true,
		LatencyThreshold: 50 * time.Millisecond,
		Cooldown:         30 * time.Second,
		Params:           cfg.SamplingParams(),
	}, logger)

	target := stackprobe.NewTargetID()
	go stackprobe.Do(context.Background(), target, func(ctx context.Context) {
		runJobs(ctx, target, trigger)
	})

	// Periodic runs, independent of the slow-job trigger.
	go func() {
		for {
			p := stackprobe.NewProfiler(target, cfg.SamplingParams())
			done := make(chan struct{})
			p.SetCompletedCallback(func(prof *profile.Profile) {
				spans.Deliver(prof)
				files.Deliver(prof)
				store.Deliver(prof)
				close(done)
			})
			p.Start()
			<-done
			time.Sleep(10 * time.Second)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/debug/stackprobe", http_reporter.NewHandler(store))

	log.Printf("Starting demo server for service '%s' on :8080", cfg.ServiceName)
	log.Println("Pending profiles endpoint: http://localhost:8080/debug/stackprobe")

	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
}

// runJobs performs hash batches of varying size on the tagged goroutine
// and reports each batch's latency to the trigger.
func runJobs(ctx context.Context, target profile.TargetID, trigger *profiling.Trigger) {
	seed := []byte("stackprobe-demo")
	rounds := 1 << 10
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		for i := 0; i < rounds; i++ {
			sum := sha256.Sum256(seed)
			seed = sum[:]
		}
		trigger.SampleIfSlow(target, "hash-batch", time.Since(start))

		// Grow the batch so later iterations cross the threshold.
		if rounds < 1<<22 {
			rounds *= 2
		}
		time.Sleep(100 * time.Millisecond)
	}
}
