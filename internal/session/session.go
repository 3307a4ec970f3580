// Package session tracks per-session runtime state and the effective
// configuration it was created under. The host addresses sessions by an
// opaque string handle; teardown is explicit via Remove so the registry
// never leaks dropped sessions.
package session

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// State is the mutable runtime record for one session. Callers access it
// through the registry; all fields are guarded by the record's own mutex.
type State struct {
	mu sync.Mutex

	// effective is the configuration the session was created under,
	// never mutated afterward.
	effective *config.Config

	initialized        bool
	entryCount         int
	lastCleanupAt      time.Time
	compactionOccurred bool
}

// Config returns the session's effective configuration. The returned
// pointer is shared; callers must not mutate it.
func (s *State) Config() *config.Config {
	return s.effective
}

// MarkInitialized records that session services came up.
func (s *State) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// Initialized reports whether session services came up.
func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// RecordStored increments the stored-entry counter.
func (s *State) RecordStored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryCount++
}

// EntryCount returns how many entries this session stored.
func (s *State) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryCount
}

// RecordCleanup stamps the last TTL cleanup time.
func (s *State) RecordCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCleanupAt = timeNow()
}

// LastCleanupAt returns the last TTL cleanup time, zero if none ran.
func (s *State) LastCleanupAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCleanupAt
}

// MarkCompaction sets the one-way compaction latch.
func (s *State) MarkCompaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactionOccurred = true
}

// CompactionOccurred reports whether the session has compacted at least
// once. The latch never resets for the lifetime of the session.
func (s *State) CompactionOccurred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactionOccurred
}

// Registry maps opaque session handles to their runtime state. Lookups
// create the record on first use with an effective configuration computed
// once from the registry defaults merged with the given overrides.
type Registry struct {
	defaults config.Config

	mu       sync.Mutex
	sessions map[string]*State
}

// NewRegistry creates a Registry whose sessions inherit defaults. A nil
// defaults falls back to the built-in defaults.
func NewRegistry(defaults *config.Config) *Registry {
	if defaults == nil {
		defaults = config.Default()
	}
	return &Registry{
		defaults: *defaults,
		sessions: make(map[string]*State),
	}
}

// Get returns the state for sessionID, creating it on first use with the
// registry defaults as its effective configuration.
func (r *Registry) Get(sessionID string) *State {
	return r.GetWithOverrides(sessionID, nil)
}

// GetWithOverrides returns the state for sessionID, creating it on first
// use with defaults merged with overrides. Overrides are applied only at
// creation; later calls return the existing record unchanged.
func (r *Registry) GetWithOverrides(sessionID string, overrides func(*config.Config)) *State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.sessions[sessionID]; ok {
		return state
	}

	effective := r.defaults
	if overrides != nil {
		overrides(&effective)
	}
	effective.ApplyDefaults()

	state := &State{effective: &effective}
	r.sessions[sessionID] = state
	return state
}

// Lookup returns the state for sessionID without creating it.
func (r *Registry) Lookup(sessionID string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.sessions[sessionID]
	return state, ok
}

// Remove drops the session record. Called on session teardown.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
