// Package goruntime implements the stack-sampling capability for
// goroutines of the current process.
//
// A capture takes a snapshot of the runtime's goroutine profile and picks
// out the target goroutine by its pprof label. The freeze of the target is
// the runtime's own stop-the-world inside the snapshot: while goroutines
// are stopped nothing on this side runs, so the frozen window performs no
// allocation and takes no locks. The snapshot lands in a buffer that is
// pre-allocated once per run; decoding happens after every goroutine has
// been resumed.
package goruntime

import (
	"bytes"
	"errors"
	"fmt"
	rpprof "runtime/pprof"

	pprofile "github.com/google/pprof/profile"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
	"github.com/fllarpy/stackprobe/internal/adapters/moduleinfo"
)

// snapshotBufSize is the initial capacity of the reused snapshot buffer;
// it grows only when a snapshot outgrows it.
const snapshotBufSize = 1 << 16

var errTargetGone = errors.New("target goroutine absent from snapshot")

// Factory is the default domain.SamplerFactory for this platform.
var Factory domain.SamplerFactory = New

type sampler struct {
	target  string
	lookup  *rpprof.Profile
	buf     *bytes.Buffer
	modules *moduleinfo.Table
}

// New creates a stack sampler bound to the goroutine labelled with target
// (see Do and Annotate). It returns domain.ErrUnsupported for an empty
// target or when the runtime exposes no goroutine profile.
func New(target profile.TargetID) (domain.StackSampler, error) {
	if target == "" {
		return nil, domain.ErrUnsupported
	}
	lookup := rpprof.Lookup("goroutine")
	if lookup == nil {
		return nil, domain.ErrUnsupported
	}
	return &sampler{
		target:  string(target),
		lookup:  lookup,
		buf:     bytes.NewBuffer(make([]byte, 0, snapshotBufSize)),
		modules: moduleinfo.Empty(),
	}, nil
}

// Prepare resolves the process module list into p and sizes the snapshot
// buffer for the run.
func (s *sampler) Prepare(p *profile.Profile) error {
	tbl, err := moduleinfo.Load()
	if err != nil {
		tbl = moduleinfo.Empty()
	}
	s.modules = tbl
	tbl.Install(p)
	if err != nil {
		return fmt.Errorf("enumerate modules: %w", err)
	}
	return nil
}

// CaptureInto snapshots the goroutine profile, locates the target's sample
// by label and appends its return addresses to out, innermost frame first.
// A missing target (the goroutine exited or dropped its label) fails this
// tick only.
func (s *sampler) CaptureInto(out *profile.Sample) error {
	s.buf.Reset()
	if err := s.lookup.WriteTo(s.buf, 0); err != nil {
		return fmt.Errorf("goroutine profile snapshot: %w", err)
	}
	snap, err := pprofile.ParseData(s.buf.Bytes())
	if err != nil {
		return fmt.Errorf("parse goroutine profile: %w", err)
	}
	target := s.findTarget(snap)
	if target == nil {
		return errTargetGone
	}
	for _, loc := range target.Location {
		addr := uintptr(loc.Address)
		out.Frames = append(out.Frames, profile.Frame{
			InstructionPointer: addr,
			ModuleIndex:        s.modules.IndexForAddress(addr),
		})
	}
	return nil
}

// Finish releases the capture-session resources.
func (s *sampler) Finish() {
	s.buf = nil
	s.modules = nil
}

func (s *sampler) findTarget(snap *pprofile.Profile) *pprofile.Sample {
	for _, smp := range snap.Sample {
		for _, v := range smp.Label[labelKey] {
			if v == s.target {
				return smp
			}
		}
	}
	return nil
}
