package profile

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// NoModule is the module index carried by frames whose instruction pointer
// does not fall inside any known loaded module.
const NoModule = -1

// TargetID identifies the execution context a sampling run is bound to.
// How an ID maps to a concrete goroutine or thread is decided by the
// stack sampler implementation; the core treats it as opaque.
type TargetID string

// NewTargetID returns a process-unique target identifier.
func NewTargetID() TargetID {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a time-derived token; uniqueness within a process
		// is all that is required here.
		return TargetID(hex.EncodeToString([]byte(time.Now().String()))[:16])
	}
	return TargetID(hex.EncodeToString(b[:]))
}

// --- Data Structures for Profiles ---

// Module identifies one loaded code image referenced by captured frames.
// BaseAddress is an opaque address value and is never dereferenced.
// ID is a binary identity string that distinguishes a particular build of
// the image with high probability (build ID on ELF platforms). A Module is
// immutable once constructed and lives only as long as the Profile that
// references it.
type Module struct {
	BaseAddress uintptr `json:"base_address"`
	ID          string  `json:"id"`
	Path        string  `json:"path"`
}

// Frame is one stack entry: an instruction-pointer address and the index
// of its module in the owning Profile's module list, or NoModule.
type Frame struct {
	InstructionPointer uintptr `json:"instruction_pointer"`
	ModuleIndex        int     `json:"module_index"`
}

// Equal reports whether two frames carry the same instruction pointer and
// module index.
func (f Frame) Equal(o Frame) bool {
	return f.InstructionPointer == o.InstructionPointer && f.ModuleIndex == o.ModuleIndex
}

// Less orders frames by instruction pointer, then module index. Together
// with Equal it forms a strict total order, so downstream consumers can
// sort and merge identical samples.
func (f Frame) Less(o Frame) bool {
	if f.InstructionPointer != o.InstructionPointer {
		return f.InstructionPointer < o.InstructionPointer
	}
	return f.ModuleIndex < o.ModuleIndex
}

// Sample is one captured stack at one instant, innermost frame first.
// Frame order is significant and preserved exactly as captured.
type Sample struct {
	Frames []Frame `json:"frames"`
}

// Profile is the unit of output for one sampling run: the deduplicated
// modules referenced by its samples, the samples in capture order, and the
// run's timing metadata. A Profile is created when a sampling run begins
// and must be treated as immutable once it has been delivered to a sink.
type Profile struct {
	Modules          []Module      `json:"modules"`
	Samples          []Sample      `json:"samples"`
	ProfileDuration  time.Duration `json:"profile_duration_ns"`
	SamplingInterval time.Duration `json:"sampling_interval_ns"`
	// PreserveSampleOrdering is true when sample order is meaningful and
	// must survive downstream compression and processing.
	PreserveSampleOrdering bool `json:"preserve_sample_ordering"`

	moduleIndex map[string]int
}

// AddModule appends m to the module list, deduplicating by binary
// identity, and returns its index. Two samples referencing the same loaded
// image within one Profile always share one module entry. Not safe for
// concurrent use; only the sampling worker mutates a Profile in progress.
func (p *Profile) AddModule(m Module) int {
	if p.moduleIndex == nil {
		p.moduleIndex = make(map[string]int)
	}
	if i, ok := p.moduleIndex[m.ID]; ok {
		return i
	}
	p.Modules = append(p.Modules, m)
	i := len(p.Modules) - 1
	p.moduleIndex[m.ID] = i
	return i
}

// --- Sampling Configuration ---

// SamplingParams configures one sampling run. The value is copied into the
// profiler at construction and is immutable thereafter.
type SamplingParams struct {
	// InitialDelay is the time to wait before the first sample is taken.
	InitialDelay time.Duration
	// Bursts is the number of sampling bursts to perform.
	Bursts int
	// BurstInterval is the desired duration from the start of one burst to
	// the start of the next.
	BurstInterval time.Duration
	// SamplesPerBurst is the number of samples recorded per burst.
	SamplesPerBurst int
	// SamplingInterval is the desired duration between consecutive samples
	// within a burst.
	SamplingInterval time.Duration
	// PreserveSampleOrdering is true when sample order is meaningful and
	// should be preserved when the profile is compressed and processed.
	PreserveSampleOrdering bool
}

// DefaultSamplingParams returns the default configuration: a single burst
// of 300 samples at 100ms spacing, starting immediately.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		InitialDelay:     0,
		Bursts:           1,
		BurstInterval:    10 * time.Second,
		SamplesPerBurst:  300,
		SamplingInterval: 100 * time.Millisecond,
	}
}

// WithDefaults returns a copy of p with unset (zero or negative) counts
// and intervals replaced by their defaults, so a partially filled params
// value behaves like DefaultSamplingParams for the omitted fields.
func (p SamplingParams) WithDefaults() SamplingParams {
	def := DefaultSamplingParams()
	if p.Bursts <= 0 {
		p.Bursts = def.Bursts
	}
	if p.BurstInterval <= 0 {
		p.BurstInterval = def.BurstInterval
	}
	if p.SamplesPerBurst <= 0 {
		p.SamplesPerBurst = def.SamplesPerBurst
	}
	if p.SamplingInterval <= 0 {
		p.SamplingInterval = def.SamplingInterval
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	return p
}
