// Package memory implements the cart snapshot and session stores in process
// memory. Data does not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/identity"
)

var (
	_ cart.Store            = (*Store)(nil)
	_ identity.SessionStore = (*Store)(nil)
)

// Store keeps snapshots and sessions in maps.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	sessions  map[string]identity.Session
}

// New creates an empty store.
func New() *Store {
	return &Store{
		snapshots: make(map[string][]byte),
		sessions:  make(map[string]identity.Session),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[key]
	if !ok {
		return nil, cart.ErrNoSnapshot
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, key)
	return nil
}

func (s *Store) GetSession(_ context.Context, shopperID string) (*identity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[shopperID]
	if !ok {
		return nil, identity.ErrNoSession
	}
	return &sess, nil
}

func (s *Store) PutSession(_ context.Context, shopperID string, sess *identity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[shopperID] = *sess
	return nil
}

func (s *Store) DeleteSession(_ context.Context, shopperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, shopperID)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
