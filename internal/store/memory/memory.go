// Package memory provides a process-local message store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/huddle-server/internal/store"
)

// Store keeps messages in memory. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	messages []store.Message
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) SaveMessage(_ context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *Store) ListMessages(_ context.Context) ([]*store.Message, error) {
	s.mu.RLock()
	out := make([]*store.Message, 0, len(s.messages))
	for i := range s.messages {
		msg := s.messages[i]
		out = append(out, &msg)
	}
	s.mu.RUnlock()

	// Stable keeps insertion order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			msg := s.messages[i]
			return &msg, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
