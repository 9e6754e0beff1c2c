package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store with the same claim semantics as the SQL
// implementation: concurrent claimers receive disjoint batches, and rows not
// marked processed before Close become claimable again. Intended for tests.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[string]*RawEvent
	byDedup map[string]struct{}
	claimed map[string]struct{}
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[string]*RawEvent),
		byDedup: make(map[string]struct{}),
		claimed: make(map[string]struct{}),
		clock:   time.Now,
	}
}

// SetClock overrides the store clock for deterministic tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Enqueue(_ context.Context, p EnqueueParams) (bool, error) {
	if p.EventType == "" || p.ProviderEventID == "" || len(p.Payload) == 0 {
		return false, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byDedup[p.ProviderEventID]; dup {
		return false, nil
	}
	e := &RawEvent{
		ID:              uuid.NewString(),
		TenantID:        p.TenantID,
		EventType:       p.EventType,
		ProviderEventID: p.ProviderEventID,
		Payload:         append([]byte(nil), p.Payload...),
		ReceivedAt:      s.clock().UTC(),
	}
	s.rows[e.ID] = e
	s.byDedup[p.ProviderEventID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ClaimBatch(_ context.Context, limit int) (Batch, error) {
	if limit <= 0 {
		return nil, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*RawEvent
	for _, e := range s.rows {
		if e.ProcessedAt != nil {
			continue
		}
		if _, held := s.claimed[e.ID]; held {
			continue
		}
		eligible = append(eligible, e)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].ReceivedAt.Equal(eligible[j].ReceivedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].ReceivedAt.Before(eligible[j].ReceivedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]RawEvent, len(eligible))
	ids := make([]string, len(eligible))
	for i, e := range eligible {
		s.claimed[e.ID] = struct{}{}
		out[i] = *e
		ids[i] = e.ID
	}
	return &memoryBatch{store: s, events: out, ids: ids}, nil
}

func (s *MemoryStore) UnprocessedCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.rows {
		if e.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

// Event returns a snapshot of a stored row by provider event id, for test
// assertions.
func (s *MemoryStore) Event(providerEventID string) (RawEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.rows {
		if e.ProviderEventID == providerEventID {
			return *e, true
		}
	}
	return RawEvent{}, false
}

type memoryBatch struct {
	store  *MemoryStore
	events []RawEvent
	ids    []string
	closed bool
}

func (b *memoryBatch) Events() []RawEvent { return b.events }

func (b *memoryBatch) MarkProcessed(_ context.Context, id string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	e, ok := b.store.rows[id]
	if !ok || e.ProcessedAt != nil {
		return nil
	}
	now := b.store.clock().UTC()
	e.ProcessedAt = &now
	return nil
}

func (b *memoryBatch) Close(_ context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, id := range b.ids {
		delete(b.store.claimed, id)
	}
	return nil
}
