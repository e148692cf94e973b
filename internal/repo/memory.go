package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
)

// MemoryStore is an in-memory CaseRepository for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]StoredCase
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: map[string]StoredCase{}, now: time.Now}
}

func (m *MemoryStore) Create(ctx context.Context, c domain.Case) (StoredCase, error) {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return StoredCase{}, fmt.Errorf("case id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; ok {
		return StoredCase{}, fmt.Errorf("%w: case %s exists", ErrConflict, id)
	}
	sc := StoredCase{Case: c.Clone(), Version: 1, UpdatedAt: m.now().UTC()}
	m.cases[id] = sc
	return copyStored(sc), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (StoredCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.cases[strings.TrimSpace(id)]
	if !ok {
		return StoredCase{}, ErrNotFound
	}
	return copyStored(sc), nil
}

func (m *MemoryStore) Update(ctx context.Context, c domain.Case, expectedVersion int64) (StoredCase, error) {
	id := strings.TrimSpace(c.ID)
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.cases[id]
	if !ok {
		return StoredCase{}, ErrNotFound
	}
	if current.Version != expectedVersion {
		return StoredCase{}, fmt.Errorf("%w: case %s at version %d, not %d", ErrConflict, id, current.Version, expectedVersion)
	}
	sc := StoredCase{Case: c.Clone(), Version: current.Version + 1, UpdatedAt: m.now().UTC()}
	m.cases[id] = sc
	return copyStored(sc), nil
}

func (m *MemoryStore) List(ctx context.Context, filter CaseFilter) ([]StoredCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredCase, 0, len(m.cases))
	team := strings.TrimSpace(filter.AssignedTeam)
	for _, sc := range m.cases {
		if team != "" && !strings.EqualFold(sc.Case.AssignedTeam, team) {
			continue
		}
		out = append(out, copyStored(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Case.ID < out[j].Case.ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func copyStored(sc StoredCase) StoredCase {
	sc.Case = sc.Case.Clone()
	return sc
}
