// Package reminder periodically nudges incident channels about missing
// leads, missing summaries, overdue status updates and long-running open
// incidents. Reminder state is persisted so attempt counters survive
// restarts.
package reminder

import (
	"context"
	"sync"
	"time"
)

// State tracks one reminder's progress against one incident.
type State struct {
	IncidentID string
	Name       string
	// LastFiredAt is nil until the reminder fires for the first time.
	LastFiredAt *time.Time
	// AttemptCount counts actual sends, not checks.
	AttemptCount int
	// LastFingerprint is the content of the last sent message, used to
	// suppress repeats of send-once reminders.
	LastFingerprint string
}

// Store persists reminder state. Get returns a zero-valued state for
// unknown incident/name pairs.
type Store interface {
	Get(ctx context.Context, incidentID, name string) (*State, error)
	Put(ctx context.Context, state *State) error
}

// MemoryStore is an in-process Store. Counters reset on restart; use the
// postgres store in production.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (s *MemoryStore) Get(ctx context.Context, incidentID, name string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.states[incidentID+"/"+name]; ok {
		cp := *state
		return &cp, nil
	}
	return &State{IncidentID: incidentID, Name: name}, nil
}

func (s *MemoryStore) Put(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.states[state.IncidentID+"/"+state.Name] = &cp
	return nil
}
