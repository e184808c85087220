package saga

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"server/internal/domain"
)

// MemoryStore is an in-process InstanceStore for tests and single-process
// deployments.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[uuid.UUID]Instance
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[uuid.UUID]Instance)}
}

// Get returns a copy of the stored instance.
func (s *MemoryStore) Get(ctx context.Context, correlationID uuid.UUID) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[correlationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := inst
	return &out, nil
}

// Save performs a compare-and-swap write keyed on the stored version.
func (s *MemoryStore) Save(ctx context.Context, inst *Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.instances[inst.CorrelationID]
	if !ok {
		if expectedVersion != 0 {
			return domain.ErrVersionConflict
		}
		s.instances[inst.CorrelationID] = *inst
		return nil
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	s.instances[inst.CorrelationID] = *inst
	return nil
}

var _ InstanceStore = (*MemoryStore)(nil)
