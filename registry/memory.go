package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps agent records in process memory. Used in tests and
// single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: map[string]Agent{}}
}

func (s *MemoryStore) PutAgent(ctx context.Context, a Agent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.DID]; ok {
		return ErrAlreadyExists
	}
	s.agents[a.DID] = a
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, did string) (*Agent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[did]
	if !ok {
		return nil, ErrNotFound
	}
	out := a
	return &out, nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, did string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[did]; !ok {
		return ErrNotFound
	}
	delete(s.agents, did)
	return nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]Agent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID < out[j].DID })
	return out, nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, did string, fn func(*Agent) error) (*Agent, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[did]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&a); err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now().UTC()
	s.agents[did] = a
	out := a
	return &out, nil
}
