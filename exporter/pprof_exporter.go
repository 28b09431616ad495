// Package exporter contains reference collaborators that move finished
// profiles out of the core: a pprof file exporter and an OpenTelemetry
// bridge. Both satisfy domain.ProfileSink and can be used directly as a
// profiler's completed callback destination.
package exporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	pprofile "github.com/google/pprof/profile"
	"github.com/sirupsen/logrus"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

// PprofExporter writes each delivered profile as a gzip-compressed pprof
// file into a directory, named by delivery timestamp.
type PprofExporter struct {
	dir    string
	logger *logrus.Logger
}

var _ domain.ProfileSink = (*PprofExporter)(nil)

// NewPprofExporter creates an exporter writing into dir. A nil logger
// falls back to a quiet warn-level default.
func NewPprofExporter(dir string, logger *logrus.Logger) *PprofExporter {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &PprofExporter{dir: dir, logger: logger}
}

// Deliver renders p to a pprof file. Errors are logged rather than
// returned: delivery runs on the sampling worker, where no caller can
// handle them, and export failure must never destabilize the host.
func (e *PprofExporter) Deliver(p *profile.Profile) {
	name := filepath.Join(e.dir, fmt.Sprintf("stackprobe_%d.pb.gz", time.Now().UnixNano()))
	f, err := os.Create(name)
	if err != nil {
		e.logger.WithError(err).Error("create profile file")
		return
	}
	defer f.Close()
	if err := Write(p, f); err != nil {
		e.logger.WithError(err).WithField("path", name).Error("write profile file")
		return
	}
	e.logger.WithFields(logrus.Fields{
		"path":    name,
		"samples": len(p.Samples),
	}).Info("profile written")
}

// Write renders p in the pprof exchange format, gzip-compressed, to w.
func Write(p *profile.Profile, w io.Writer) error {
	out := Convert(p)
	out.TimeNanos = time.Now().Add(-p.ProfileDuration).UnixNano()
	return out.Write(w)
}

// Convert renders a finalized stack-sampling profile in the pprof data
// model: one mapping per module, one location per distinct frame, one
// unit-weight sample per captured stack in capture order. Symbolication
// is deliberately absent; addresses and build IDs are what downstream
// processing needs.
func Convert(p *profile.Profile) *pprofile.Profile {
	out := &pprofile.Profile{
		SampleType:    []*pprofile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType:    &pprofile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        int64(p.SamplingInterval),
		DurationNanos: int64(p.ProfileDuration),
	}

	mappings := make([]*pprofile.Mapping, len(p.Modules))
	limits := make([]uint64, len(p.Modules))
	for i, m := range p.Modules {
		mappings[i] = &pprofile.Mapping{
			ID:      uint64(i + 1),
			Start:   uint64(m.BaseAddress),
			BuildID: m.ID,
			File:    m.Path,
		}
		limits[i] = uint64(m.BaseAddress) + 1
	}

	locs := make(map[profile.Frame]*pprofile.Location)
	for _, s := range p.Samples {
		sampleLocs := make([]*pprofile.Location, 0, len(s.Frames))
		for _, f := range s.Frames {
			loc, ok := locs[f]
			if !ok {
				loc = &pprofile.Location{
					ID:      uint64(len(locs) + 1),
					Address: uint64(f.InstructionPointer),
				}
				if f.ModuleIndex != profile.NoModule {
					loc.Mapping = mappings[f.ModuleIndex]
					if a := uint64(f.InstructionPointer) + 1; a > limits[f.ModuleIndex] {
						limits[f.ModuleIndex] = a
					}
				}
				locs[f] = loc
				out.Location = append(out.Location, loc)
			}
			sampleLocs = append(sampleLocs, loc)
		}
		out.Sample = append(out.Sample, &pprofile.Sample{
			Location: sampleLocs,
			Value:    []int64{1},
		})
	}

	// The data model carries no module sizes; extend each mapping to the
	// highest referenced address so the output validates.
	for i, m := range mappings {
		m.Limit = limits[i]
	}
	out.Mapping = mappings
	return out
}
