package token

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const (
	stateTTL             = 10 * time.Minute
	stateCleanupInterval = 60 * time.Second
)

// stateEntry holds a state token with its expiration time.
type stateEntry struct {
	expiresAt time.Time
}

// StateStore manages OAuth state tokens for CSRF protection during the
// account-link flow.
type StateStore struct {
	mu      sync.RWMutex
	states  map[string]stateEntry
	stopCh  chan struct{}
	stopped bool
}

// NewStateStore creates a StateStore and starts its cleanup goroutine.
func NewStateStore() *StateStore {
	s := &StateStore{
		states: make(map[string]stateEntry),
		stopCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Generate creates a new random state token and stores it.
func (s *StateStore) Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	s.mu.Lock()
	s.states[state] = stateEntry{expiresAt: time.Now().Add(stateTTL)}
	s.mu.Unlock()

	return state, nil
}

// Validate checks if a state token is valid and removes it.
func (s *StateStore) Validate(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return false
	}

	delete(s.states, state)

	return !time.Now().After(entry.expiresAt)
}

// Stop stops the cleanup goroutine.
func (s *StateStore) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *StateStore) cleanupLoop() {
	ticker := time.NewTicker(stateCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *StateStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for state, entry := range s.states {
		if now.After(entry.expiresAt) {
			delete(s.states, state)
		}
	}
}
