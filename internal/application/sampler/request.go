package sampler

import (
	"time"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

// state is the position of a request in its sampling timeline.
type state int

const (
	// stateInitialDelay: waiting for params.InitialDelay before the first
	// burst begins.
	stateInitialDelay state = iota
	// stateBursting: mid-burst, capturing samples at SamplingInterval
	// spacing.
	stateBursting
	// stateBurstWait: between bursts, waiting for BurstInterval to elapse
	// from the start of the previous burst.
	stateBurstWait
)

// Request is one active sampling run owned by the scheduler: a target, a
// parameter snapshot, the profile being built, the stack sampler that
// captures into it and the sink that receives the finalized result.
//
// All fields except stop are private to the worker goroutine. stop is the
// only caller-written field and is guarded by the scheduler mutex.
type Request struct {
	target  profile.TargetID
	params  profile.SamplingParams
	sampler domain.StackSampler
	sink    domain.ProfileSink
	prof    *profile.Profile

	state         state
	burst         int
	sampleInBurst int

	// nextWake is the absolute instant of the next scheduled tick. Wake
	// times are always derived from burstStart, never re-armed relative to
	// the previous tick, so scheduling jitter does not accumulate.
	nextWake   time.Time
	burstStart time.Time

	firstCapture time.Time
	lastCapture  time.Time
	prepared     bool

	stop bool
}
