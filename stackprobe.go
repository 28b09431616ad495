// Package stackprobe periodically captures the call stack of a running
// goroutine without requiring its cooperation, for the purpose of
// collecting statistical information about where code spends time. The
// collected profiles hold raw instruction pointers and module identities;
// symbolication is left to offline processing.
//
// Sample usage:
//
//	target := stackprobe.NewTargetID()
//	go stackprobe.Do(ctx, target, worker)
//
//	profiler := stackprobe.NewProfiler(target, stackprobe.DefaultSamplingParams())
//
//	// To process profiles in-process rather than through the default
//	// sink, set a completed callback before starting:
//	profiler.SetCompletedCallback(threadSafeCallback)
//
//	profiler.Start()
//	// ... work being done on the target goroutine here ...
//	profiler.Stop() // optional, ends collection before the params complete
//
// Without a callback, finished profiles queue in a process-wide store and
// are drained with RetrievePendingProfiles.
package stackprobe

import (
	"context"
	"net/http"
	"sync"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
	"github.com/fllarpy/stackprobe/infrastructure/storage/inmemory"
	"github.com/fllarpy/stackprobe/internal/adapters/goruntime"
	"github.com/fllarpy/stackprobe/internal/application/sampler"
	"github.com/fllarpy/stackprobe/internal/ports/http_reporter"
)

var (
	defaultScheduler = sampler.New(nil)
	defaultStore     = inmemory.NewStore()
)

// NewTargetID mints a process-unique identifier for a sampling target.
func NewTargetID() profile.TargetID {
	return profile.NewTargetID()
}

// DefaultSamplingParams returns the default sampling configuration.
func DefaultSamplingParams() profile.SamplingParams {
	return profile.DefaultSamplingParams()
}

// Do runs fn on the current goroutine marked as target, making its stack
// attributable to profilers bound to the same TargetID. The mark is
// removed when fn returns.
func Do(ctx context.Context, target profile.TargetID, fn func(context.Context)) {
	goruntime.Do(ctx, target, fn)
}

// Annotate marks the current goroutine as target for the rest of its
// lifetime and returns the context carrying the mark.
func Annotate(ctx context.Context, target profile.TargetID) context.Context {
	return goruntime.Annotate(ctx, target)
}

// RetrievePendingProfiles atomically moves out all profiles queued to the
// default sink and clears it; a second immediate call returns nothing new.
// This is the sanctioned way to drain results when no completed callback
// is used, intended to be polled by a telemetry pipeline.
func RetrievePendingProfiles() []*profile.Profile {
	return defaultStore.RetrieveAndClear()
}

// Handler returns an HTTP handler that serves and drains the default
// sink as a JSON array of profile summaries. Each GET consumes the
// profiles it reports.
func Handler() http.Handler {
	return http_reporter.NewHandler(defaultStore)
}

// Profiler samples the stack of one target on a configured schedule. All
// concurrently active profilers share one background sampling worker; its
// lifetime is reference-counted by the active runs, so it exists exactly
// while at least one profiler is registered.
type Profiler struct {
	target profile.TargetID
	params profile.SamplingParams

	sched   *sampler.Scheduler
	factory domain.SamplerFactory
	sink    domain.ProfileSink

	mu       sync.Mutex
	started  bool
	req      *sampler.Request
	callback func(*profile.Profile)
}

// NewProfiler creates a profiler bound to target with a snapshot of
// params. Sampling does not begin until Start.
func NewProfiler(target profile.TargetID, params profile.SamplingParams) *Profiler {
	return &Profiler{
		target:  target,
		params:  params.WithDefaults(),
		sched:   defaultScheduler,
		factory: goruntime.Factory,
		sink:    defaultStore,
	}
}

// SetCompletedCallback routes the finished profile to cb instead of the
// default sink. It must be called before Start; afterwards it is a no-op.
// The callback is invoked on the sampling worker, not the caller's
// goroutine, so it must be safe to run concurrently with caller code.
func (p *Profiler) SetCompletedCallback(cb func(*profile.Profile)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.callback = cb
}

// Start registers the sampling run with the shared scheduler. Calling it
// again once started is a no-op. When no capture mechanism exists for the
// target, the run completes immediately with an empty profile; no error
// surfaces to the caller.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	sink := p.sink
	if p.callback != nil {
		sink = domain.SinkFunc(p.callback)
	}

	smp, err := p.factory(p.target)
	if err != nil {
		// Unsupported target: register a degraded run that finalizes
		// straight away with zero samples and zero modules.
		smp = nil
	}
	p.req = p.sched.Register(p.target, p.params, smp, sink)
}

// Stop requests early termination, finalizing and delivering whatever was
// captured so far. It returns without waiting for delivery; cancellation
// is cooperative at capture-tick granularity. Stop is optional (sampling
// otherwise ends when all configured bursts complete) and a no-op on a
// profiler that was never started.
func (p *Profiler) Stop() {
	p.mu.Lock()
	req := p.req
	p.mu.Unlock()
	if req == nil {
		return
	}
	p.sched.Stop(req)
}
