package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/canopy/pkg/codec"
	"github.com/aretw0/canopy/pkg/domain"
)

// Store implements ports.StepStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]*codec.WireStep
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]*codec.WireStep),
	}
}

// Append stores copies of steps at the end of the session's log.
func (s *Store) Append(ctx context.Context, sessionID string, steps ...*codec.WireStep) error {
	// Copy through JSON so numbers look the same as in the durable stores.
	copies := make([]*codec.WireStep, 0, len(steps))
	for _, step := range steps {
		c, err := step.Clone()
		if err != nil {
			return err
		}
		copies = append(copies, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = append(s.data[sessionID], copies...)
	return nil
}

// Load returns copies of the session's steps.
func (s *Store) Load(ctx context.Context, sessionID string) ([]*codec.WireStep, error) {
	s.mu.RLock()
	steps, ok := s.data[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	out := make([]*codec.WireStep, 0, len(steps))
	for _, step := range steps {
		c, err := step.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored sessions, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}
