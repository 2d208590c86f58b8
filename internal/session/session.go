// Package session keeps per-conversation state: the ordered turn history
// and the grounded-mode flag. State is process-scoped; nothing survives a
// restart.
package session

import (
	"errors"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role      Role
	Text      string
	CreatedAt time.Time
}

// ErrNotFound indicates the session ID is unknown.
// Check with errors.Is().
var ErrNotFound = errors.New("session not found")

// state is the mutable per-session data, guarded by its own mutex so
// operations on different sessions never contend.
type state struct {
	mu       sync.Mutex
	turns    []Turn
	grounded bool
}

// Store holds all live sessions.
//
// The outer RWMutex guards the session map; each session's own mutex guards
// its turns, so Append and Reset on one session are atomic with respect to
// each other and to readers.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*state)}
}

// GetOrCreate ensures a session exists. Creating an already existing
// session is a no-op; the call never fails.
//
// Grounded mode defaults to on for new sessions.
func (s *Store) GetOrCreate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = &state{grounded: true}
	}
}

// Append adds a turn to the end of the session's history.
// History is append-only: turns are never reordered or rewritten.
func (s *Store) Append(id string, turn Turn) error {
	st, err := s.get(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	st.turns = append(st.turns, turn)
	return nil
}

// Turns returns a copy of the session's history in insertion order.
func (s *Store) Turns(id string) ([]Turn, error) {
	st, err := s.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	turns := make([]Turn, len(st.turns))
	copy(turns, st.turns)
	return turns, nil
}

// Reset atomically clears the session's history. The session itself and its
// grounded-mode setting survive; concurrent readers see either the old
// history or none of it, never a partial one.
func (s *Store) Reset(id string) error {
	st, err := s.get(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.turns = nil
	return nil
}

// SetGrounded switches the session between grounded (retrieval-augmented)
// and plain chat mode.
func (s *Store) SetGrounded(id string, grounded bool) error {
	st, err := s.get(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.grounded = grounded
	return nil
}

// Grounded reports whether the session is in grounded mode.
func (s *Store) Grounded(id string) (bool, error) {
	st, err := s.get(id)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.grounded, nil
}

// get looks up a session's state.
func (s *Store) get(id string) (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}
