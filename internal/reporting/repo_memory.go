package reporting

import (
	"context"
	"sync"
	"time"

	"telephony-events/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
// It enforces tenant isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls      []calls.Call
	Voicemails []stamped
	Messages   []stamped

	Unprocessed       int
	OldestUnprocessed *time.Time
	Processed         []time.Time
}

type stamped struct {
	TenantID  string
	CreatedAt time.Time
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) AddVoicemail(tenantID string, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Voicemails = append(r.Voicemails, stamped{tenantID, createdAt})
}

func (r *MemoryRepo) AddMessage(tenantID string, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, stamped{tenantID, createdAt})
}

func (r *MemoryRepo) ListCalls(_ context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.TenantID != tenantID {
			continue
		}
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) CountVoicemails(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	return r.countRange(r.Voicemails, tenantID, from, to)
}

func (r *MemoryRepo) CountMessages(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	return r.countRange(r.Messages, tenantID, from, to)
}

func (r *MemoryRepo) countRange(rows []stamped, tenantID string, from, to time.Time) (int, error) {
	if tenantID == "" {
		return 0, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range rows {
		if row.TenantID == tenantID && !row.CreatedAt.Before(from) && row.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) UnprocessedEvents(_ context.Context) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Unprocessed, r.OldestUnprocessed, nil
}

func (r *MemoryRepo) ProcessedSince(_ context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.Processed {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}
