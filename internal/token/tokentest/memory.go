// Package tokentest provides an in-memory token.Store for tests.
package tokentest

import (
	"context"
	"sync"

	"tixbot/internal/token"
)

// Store is a map-backed token.Store that records calls.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string]token.SessionToken

	Gets  int
	Saves int

	// GetErr and SaveErr, when set, are returned instead of touching the map.
	GetErr  error
	SaveErr error
}

func NewStore(seed ...*token.SessionToken) *Store {
	s := &Store{byEmail: make(map[string]token.SessionToken)}
	for _, tok := range seed {
		s.byEmail[tok.Email] = *tok
	}
	return s
}

func (s *Store) Get(ctx context.Context, email string) (*token.SessionToken, error) {
	s.mu.Lock()
	s.Gets++
	s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.byEmail[email]
	if !ok {
		return nil, token.ErrNotFound
	}
	return &tok, nil
}

func (s *Store) Save(ctx context.Context, tok *token.SessionToken) (*token.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++

	if s.SaveErr != nil {
		return nil, s.SaveErr
	}
	s.byEmail[tok.Email] = *tok
	saved := *tok
	return &saved, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

// Counts returns the number of Get and Save calls so far.
func (s *Store) Counts() (gets, saves int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Gets, s.Saves
}
