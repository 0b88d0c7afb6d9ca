package registry

import (
	"context"
	"fmt"
	"sync"

	x402 "github.com/Zyzgsfi/agentpay"
)

// MemoryStore keeps records in process memory behind a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*AgentRecord
	order   []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*AgentRecord)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, record AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("registry: duplicate agent id %s", record.ID)
	}
	r := record.clone()
	s.records[record.ID] = &r
	s.order = append(s.order, record.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return AgentRecord{}, fmt.Errorf("%w: %s", x402.ErrAgentNotFound, id)
	}
	return r.clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return AgentRecord{}, fmt.Errorf("%w: %s", x402.ErrAgentNotFound, id)
	}
	updated := r.clone()
	if err := fn(&updated); err != nil {
		return AgentRecord{}, err
	}
	updated.ID = id
	*r = updated
	return updated.clone(), nil
}

// List implements Store. The result is a snapshot.
func (s *MemoryStore) List(_ context.Context) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AgentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].clone())
	}
	return out, nil
}
