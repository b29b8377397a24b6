package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoints in process. Values are copied on the way in
// and out; the lock only guards the maps.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Checkpoint
	leases   map[string]bool
	canceled map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]Checkpoint),
		leases:   make(map[string]bool),
		canceled: make(map[string]bool),
	}
}

func (s *MemoryStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.IncidentID == "" {
		return fmt.Errorf("checkpoint incident id is required")
	}
	stored, err := clone(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records[cp.IncidentID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, incidentID string) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}

	s.mu.RLock()
	cp, ok := s.records[incidentID]
	s.mu.RUnlock()
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	return clone(cp)
}

func (s *MemoryStore) List(ctx context.Context) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stored := make([]Checkpoint, 0, len(s.records))
	for _, cp := range s.records {
		stored = append(stored, cp)
	}
	s.mu.RUnlock()

	out := make([]Checkpoint, 0, len(stored))
	for _, cp := range stored {
		c, err := clone(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Claim(ctx context.Context, incidentID string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[incidentID] {
		return nil, fmt.Errorf("%w: %s", ErrLeased, incidentID)
	}
	s.leases[incidentID] = true
	return &memoryLease{store: s, incidentID: incidentID}, nil
}

func (s *MemoryStore) SetCancel(ctx context.Context, incidentID string, requested bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if requested {
		s.canceled[incidentID] = true
	} else {
		delete(s.canceled, incidentID)
	}
	return nil
}

func (s *MemoryStore) CancelRequested(ctx context.Context, incidentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canceled[incidentID], nil
}

type memoryLease struct {
	store      *MemoryStore
	incidentID string
	once       sync.Once
}

func (l *memoryLease) Release() error {
	l.once.Do(func() {
		l.store.mu.Lock()
		delete(l.store.leases, l.incidentID)
		l.store.mu.Unlock()
	})
	return nil
}

func sortByCreation(cps []Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].IncidentID < cps[j].IncidentID
		}
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}
