package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests. Upsert mirrors the
// SQL conflict-resolution semantics keyed on (tenant_id, provider_call_id).
type MemoryRepository struct {
	mu    sync.Mutex
	rows  map[string]Call // key: tenantID + "/" + providerCallID
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Call), clock: time.Now}
}

func (r *MemoryRepository) key(tenantID, providerCallID string) string {
	return tenantID + "/" + providerCallID
}

func (r *MemoryRepository) Get(_ context.Context, tenantID, providerCallID string) (Call, error) {
	if tenantID == "" || providerCallID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[r.key(tenantID, providerCallID)]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, c Call) (Call, error) {
	if c.TenantID == "" || c.ProviderCallID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	k := r.key(c.TenantID, c.ProviderCallID)
	if existing, ok := r.rows[k]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.rows[k] = c
	return c, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID string, f ListFilter) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.rows {
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count reports how many calls a tenant has, for test assertions.
func (r *MemoryRepository) Count(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.rows {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n
}
