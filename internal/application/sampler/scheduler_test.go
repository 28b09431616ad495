package sampler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

const deliveryTimeout = 5 * time.Second

// fakeSampler is a scriptable stack sampler. Every successful capture
// appends one frame whose instruction pointer is the capture ordinal, so
// tests can tell samples (and samplers) apart.
type fakeSampler struct {
	mu       sync.Mutex
	prepared int
	finished int
	captures int

	// failEvery makes every Nth capture fail (1-based); 0 disables.
	failEvery int
	// marker distinguishes frames from different samplers.
	marker uintptr
	// captured, when set, receives one value per capture attempt before
	// the optional release gate is awaited.
	captured chan struct{}
	release  chan struct{}
}

func (f *fakeSampler) Prepare(p *profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared++
	return nil
}

func (f *fakeSampler) CaptureInto(s *profile.Sample) error {
	f.mu.Lock()
	f.captures++
	n := f.captures
	f.mu.Unlock()

	if f.captured != nil {
		f.captured <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.failEvery > 0 && n%f.failEvery == 0 {
		return errors.New("stack walk failed")
	}
	s.Frames = append(s.Frames, profile.Frame{
		InstructionPointer: f.marker + uintptr(n),
		ModuleIndex:        profile.NoModule,
	})
	return nil
}

func (f *fakeSampler) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
}

func (f *fakeSampler) stats() (prepared, finished, captures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared, f.finished, f.captures
}

func chanSink(t *testing.T) (domain.ProfileSink, chan *profile.Profile) {
	t.Helper()
	ch := make(chan *profile.Profile, 4)
	return domain.SinkFunc(func(p *profile.Profile) { ch <- p }), ch
}

func awaitProfile(t *testing.T, ch chan *profile.Profile) *profile.Profile {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(deliveryTimeout):
		t.Fatal("timed out waiting for profile delivery")
		return nil
	}
}

func TestCompletedRunHasConfiguredSampleCount(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  10,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("t"), params, fake, sink)
	p := awaitProfile(t, delivered)

	require.Len(t, p.Samples, 10)
	assert.Equal(t, time.Millisecond, p.SamplingInterval)
	// Ten samples mean nine inter-sample gaps.
	assert.GreaterOrEqual(t, p.ProfileDuration, 9*time.Millisecond)
	assert.Less(t, p.ProfileDuration, deliveryTimeout)

	prepared, finished, _ := fake.stats()
	assert.Equal(t, 1, prepared)
	assert.Equal(t, 1, finished)
}

func TestSamplesArriveInCaptureOrder(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  5,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("t"), params, fake, sink)
	p := awaitProfile(t, delivered)

	require.Len(t, p.Samples, 5)
	for i, smp := range p.Samples {
		require.Len(t, smp.Frames, 1)
		assert.Equal(t, uintptr(i+1), smp.Frames[0].InstructionPointer)
	}
}

func TestStopMidBurstKeepsCapturedSamples(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{
		captured: make(chan struct{}),
		release:  make(chan struct{}),
	}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  10,
		SamplingInterval: time.Millisecond,
	}

	req := s.Register(profile.TargetID("t"), params, fake, sink)

	// Let three captures through; stop while the third is still in
	// flight, so cancellation has to wait for the tick, not the burst.
	for i := 0; i < 3; i++ {
		<-fake.captured
		if i == 2 {
			s.Stop(req)
		}
		fake.release <- struct{}{}
	}

	p := awaitProfile(t, delivered)
	assert.Len(t, p.Samples, 3)
	assert.LessOrEqual(t, p.ProfileDuration, deliveryTimeout)

	_, finished, captures := fake.stats()
	assert.Equal(t, 3, captures, "no capture may start after stop is observed")
	assert.Equal(t, 1, finished)
}

func TestFailedTicksAreSkippedNotFatal(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{failEvery: 2}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  10,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("t"), params, fake, sink)
	p := awaitProfile(t, delivered)

	assert.Len(t, p.Samples, 5, "every second tick fails and is skipped")
	_, _, captures := fake.stats()
	assert.Equal(t, 10, captures, "failed ticks still consume their slot")
}

func TestBurstScheduleSpansBurstInterval(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           2,
		BurstInterval:    30 * time.Millisecond,
		SamplesPerBurst:  3,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("t"), params, fake, sink)
	p := awaitProfile(t, delivered)

	require.Len(t, p.Samples, 6)
	// The second burst starts one burst interval after the first began.
	assert.GreaterOrEqual(t, p.ProfileDuration, 30*time.Millisecond)
}

func TestInitialDelayPostponesFirstCapture(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		InitialDelay:     25 * time.Millisecond,
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  1,
		SamplingInterval: time.Millisecond,
	}

	start := time.Now()
	s.Register(profile.TargetID("t"), params, fake, sink)
	awaitProfile(t, delivered)

	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestNilSamplerDeliversEmptyProfileImmediately(t *testing.T) {
	s := New(nil)
	sink, delivered := chanSink(t)

	s.Register(profile.TargetID("t"), profile.DefaultSamplingParams(), nil, sink)
	p := awaitProfile(t, delivered)

	assert.Empty(t, p.Samples)
	assert.Empty(t, p.Modules)
	assert.Equal(t, time.Duration(0), p.ProfileDuration)
}

func TestWorkerExistsOnlyWhileRequestsAreActive(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  2,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("a"), params, fake, sink)
	awaitProfile(t, delivered)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.requests) == 0 && !s.running
	}, deliveryTimeout, time.Millisecond, "worker must terminate once the active set empties")

	// A later registration recreates the worker on demand.
	s.Register(profile.TargetID("b"), params, &fakeSampler{}, sink)
	p := awaitProfile(t, delivered)
	assert.Len(t, p.Samples, 2)
}

func TestConcurrentRequestsDoNotCrossContaminate(t *testing.T) {
	s := New(nil)
	fakeA := &fakeSampler{marker: 0x1000}
	fakeB := &fakeSampler{marker: 0x2000}
	sinkA, deliveredA := chanSink(t)
	sinkB, deliveredB := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  5,
		SamplingInterval: time.Millisecond,
	}

	s.Register(profile.TargetID("a"), params, fakeA, sinkA)
	s.Register(profile.TargetID("b"), params, fakeB, sinkB)

	profA := awaitProfile(t, deliveredA)
	profB := awaitProfile(t, deliveredB)

	require.Len(t, profA.Samples, 5)
	require.Len(t, profB.Samples, 5)
	for _, smp := range profA.Samples {
		assert.Less(t, smp.Frames[0].InstructionPointer, uintptr(0x2000), "profile A must only hold sampler A's frames")
	}
	for _, smp := range profB.Samples {
		assert.GreaterOrEqual(t, smp.Frames[0].InstructionPointer, uintptr(0x2000), "profile B must only hold sampler B's frames")
	}
}

func TestStopAfterCompletionIsNoop(t *testing.T) {
	s := New(nil)
	fake := &fakeSampler{}
	sink, delivered := chanSink(t)
	params := profile.SamplingParams{
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  1,
		SamplingInterval: time.Millisecond,
	}

	req := s.Register(profile.TargetID("t"), params, fake, sink)
	awaitProfile(t, delivered)

	s.Stop(req) // already gone from the active set

	_, finished, _ := fake.stats()
	assert.Equal(t, 1, finished, "a finished run must not be finalized twice")
}
