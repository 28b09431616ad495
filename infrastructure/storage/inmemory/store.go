package inmemory

import (
	"sync"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

var _ domain.ProfileSink = (*Store)(nil)
var _ domain.ProfileSource = (*Store)(nil)

// Store is a thread-safe collection of finished profiles. It is the
// default destination for sampling runs without a custom completed
// callback and is intended to be polled by an external telemetry pipeline
// via RetrieveAndClear. It is always safe to be empty and needs no
// explicit teardown.
//
// The lock is held only for the append and move-out operations, never
// across a capture.
type Store struct {
	mu       sync.Mutex
	profiles []*profile.Profile
}

// NewStore creates an empty profile store.
func NewStore() *Store {
	return &Store{}
}

// Deliver appends a finalized profile. It implements domain.ProfileSink
// and is called by the sampling worker; the profile must not be mutated
// afterward.
func (s *Store) Deliver(p *profile.Profile) {
	s.mu.Lock()
	s.profiles = append(s.profiles, p)
	s.mu.Unlock()
}

// RetrieveAndClear atomically moves out all currently queued profiles and
// empties the store in one step. A second immediate call returns nothing
// new.
func (s *Store) RetrieveAndClear() []*profile.Profile {
	s.mu.Lock()
	out := s.profiles
	s.profiles = nil
	s.mu.Unlock()
	return out
}

// Len reports how many profiles are currently queued.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}
