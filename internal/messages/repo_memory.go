package messages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	rows  map[string]Message // tenantID + "/" + providerMessageID
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Message), clock: time.Now}
}

func (r *MemoryRepository) SetClock(fn func() time.Time) { r.clock = fn }

func (r *MemoryRepository) Upsert(_ context.Context, m Message) (Message, error) {
	if m.TenantID == "" || m.ProviderMessageID == "" {
		return Message{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.TenantID + "/" + m.ProviderMessageID
	now := r.clock().UTC()
	if prev, ok := r.rows[key]; ok {
		m.ID = prev.ID
		m.CreatedAt = prev.CreatedAt
	} else {
		m.ID = uuid.NewString()
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.rows[key] = m
	return m, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID string, limit, offset int) ([]Message, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Message
	for _, m := range r.rows {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count reports the number of stored rows, for tests.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
