package domain

import (
	"errors"

	"github.com/fllarpy/stackprobe/domain/profile"
)

// ErrUnsupported is returned by a SamplerFactory when the platform offers
// no supported suspend-and-introspect mechanism for the given target. The
// rest of the system degrades to a zero-sample profile rather than fail.
var ErrUnsupported = errors.New("stack sampling not supported for this target")

// StackSampler abstracts the platform capability that records one stack
// sample for a single target. All methods are invoked on the sampling
// worker, never on caller goroutines.
//
// CaptureInto carries a correctness-critical constraint: while the target
// is frozen for reading, the implementation must not allocate from the
// heap and must not acquire any lock the frozen target might hold; the
// frozen target cannot release anything until it is resumed. Buffers must
// be pre-allocated in Prepare; any decoding or post-processing happens
// after the target has been resumed.
type StackSampler interface {
	// Prepare is called once before the run's first capture. It may
	// pre-resolve the current module list into the profile and size any
	// capture buffers.
	Prepare(p *profile.Profile) error

	// CaptureInto freezes the target only long enough to read its current
	// return addresses, appends them to s innermost-first, and resumes it.
	// An error marks this tick as failed; the run continues.
	CaptureInto(s *profile.Sample) error

	// Finish is called once after the run's last capture and releases any
	// capture-session resources.
	Finish()
}

// SamplerFactory resolves the stack-sampling capability for a target once,
// at profiler construction. It returns ErrUnsupported when no mechanism
// exists for the target.
type SamplerFactory func(target profile.TargetID) (StackSampler, error)

// ProfileSink receives finalized profiles. Deliver runs on the sampling
// worker, so implementations must be safe to invoke concurrently with
// caller code and must not block on sampling progress. A delivered profile
// is never mutated afterward.
type ProfileSink interface {
	Deliver(p *profile.Profile)
}

// SinkFunc adapts a plain function to the ProfileSink interface.
type SinkFunc func(*profile.Profile)

// Deliver calls f(p).
func (f SinkFunc) Deliver(p *profile.Profile) { f(p) }

// ProfileSource is the draining side of a completed-profile store.
// RetrieveAndClear atomically moves out everything queued so far; an
// immediate second call returns nothing new.
type ProfileSource interface {
	RetrieveAndClear() []*profile.Profile
}
