// Package sampler implements the shared sampling scheduler: a single
// background worker that drives the timed capture schedule for every
// concurrently active sampling run in the process.
//
// The worker exists if and only if at least one run is registered. It is
// spawned by the first registration, terminates itself once the active set
// empties, and is recreated on demand by the next registration. Caller
// operations (Register, Stop) never block on sampling progress: they
// mutate the request table under a short-held lock and wake the worker.
package sampler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

// maxStackDepth caps the frames recorded per sample.
const maxStackDepth = 64

// Scheduler owns the set of active sampling runs and the worker goroutine
// that services them.
type Scheduler struct {
	logger *logrus.Logger

	mu       sync.Mutex
	requests map[*Request]struct{}
	running  bool

	wake chan struct{}
}

// New creates a scheduler. A nil logger falls back to a warn-level default
// so library users who do not care about logging get a quiet probe.
func New(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Scheduler{
		logger:   logger,
		requests: make(map[*Request]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Register adds a sampling run for target and returns its handle. The
// first sample is scheduled params.InitialDelay from now. A nil sampler
// registers a run that is finalized immediately with an empty profile,
// which is how an unsupported platform degrades.
func (s *Scheduler) Register(target profile.TargetID, params profile.SamplingParams, sampler domain.StackSampler, sink domain.ProfileSink) *Request {
	r := &Request{
		target:  target,
		params:  params,
		sampler: sampler,
		sink:    sink,
		prof: &profile.Profile{
			SamplingInterval:       params.SamplingInterval,
			PreserveSampleOrdering: params.PreserveSampleOrdering,
		},
		state:    stateInitialDelay,
		nextWake: time.Now().Add(params.InitialDelay),
	}
	if sampler == nil {
		r.stop = true
	}

	s.mu.Lock()
	s.requests[r] = struct{}{}
	if !s.running {
		s.running = true
		go s.run()
	} else {
		s.signal()
	}
	s.mu.Unlock()
	return r
}

// Stop requests early termination of r. It returns immediately; the worker
// finalizes the run after any in-flight capture tick completes, at tick
// granularity rather than preemptively. Stopping an already finished or
// unknown request is a no-op.
func (s *Scheduler) Stop(r *Request) {
	s.mu.Lock()
	if _, ok := s.requests[r]; ok {
		r.stop = true
		s.signal()
	}
	s.mu.Unlock()
}

// ActiveCount reports how many sampling runs are currently registered.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop. It sleeps until the earliest scheduled wake time
// across all runs, services every run whose time has arrived, and exits
// when the active set becomes empty.
func (s *Scheduler) run() {
	for {
		now := time.Now()
		var due []*Request
		var next time.Time

		s.mu.Lock()
		if len(s.requests) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		for r := range s.requests {
			if r.stop || !now.Before(r.nextWake) {
				due = append(due, r)
			} else if next.IsZero() || r.nextWake.Before(next) {
				next = r.nextWake
			}
		}
		s.mu.Unlock()

		if len(due) == 0 {
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
			}
			continue
		}
		for _, r := range due {
			s.service(r)
		}
	}
}

// service advances one run by a single tick: a state transition, at most
// one capture, and the computation of the next absolute wake time. The
// scheduler mutex is never held across a capture.
func (s *Scheduler) service(r *Request) {
	if s.stopRequested(r) {
		s.finalize(r, true)
		return
	}
	if r.params.SamplesPerBurst <= 0 || r.params.Bursts <= 0 {
		s.finalize(r, false)
		return
	}

	// InitialDelay and BurstWait both open a burst at the scheduled
	// instant and capture its first sample immediately.
	switch r.state {
	case stateInitialDelay:
		r.burstStart = r.nextWake
		r.state = stateBursting
	case stateBurstWait:
		r.burst++
		r.sampleInBurst = 0
		r.burstStart = r.nextWake
		r.state = stateBursting
	}

	if !r.prepared {
		r.prepared = true
		if err := r.sampler.Prepare(r.prof); err != nil {
			s.logger.WithError(err).WithField("target", r.target).
				Warn("stack sampler prepare failed, continuing without module info")
		}
	}

	sample := profile.Sample{Frames: make([]profile.Frame, 0, maxStackDepth)}
	if err := r.sampler.CaptureInto(&sample); err != nil {
		// A single failed tick is skipped, not fatal to the run.
		s.logger.WithError(err).WithField("target", r.target).
			Debug("capture tick failed, sample skipped")
	} else {
		now := time.Now()
		if r.firstCapture.IsZero() {
			r.firstCapture = now
		}
		r.lastCapture = now
		r.prof.Samples = append(r.prof.Samples, sample)
	}
	r.sampleInBurst++

	if r.sampleInBurst >= r.params.SamplesPerBurst {
		if r.burst+1 >= r.params.Bursts {
			s.finalize(r, false)
			return
		}
		r.state = stateBurstWait
		r.nextWake = r.burstStart.Add(r.params.BurstInterval)
		return
	}
	// Absolute schedule: if a tick overran its slot, the next wake time is
	// already in the past and overdue ticks run back to back until the
	// burst catches up. Nothing is dropped or coalesced.
	r.nextWake = r.burstStart.Add(time.Duration(r.sampleInBurst) * r.params.SamplingInterval)
}

func (s *Scheduler) stopRequested(r *Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.stop
}

// finalize closes out a run: duration is the wall time from first to last
// capture, the sampler releases its session, the run leaves the active set
// and the profile is handed to the sink. Delivery happens on the worker.
func (s *Scheduler) finalize(r *Request, stopped bool) {
	if r.sampler != nil {
		r.sampler.Finish()
	}
	if !r.firstCapture.IsZero() {
		r.prof.ProfileDuration = r.lastCapture.Sub(r.firstCapture)
	}

	s.mu.Lock()
	delete(s.requests, r)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"target":  r.target,
		"samples": len(r.prof.Samples),
		"stopped": stopped,
	}).Debug("sampling run finalized")
	r.sink.Deliver(r.prof)
}
