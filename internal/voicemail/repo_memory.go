package voicemail

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests, mirroring the SQL
// implementation's conflict behavior for call-attached voicemails.
type MemoryRepository struct {
	mu    sync.Mutex
	rows  map[string]Voicemail // key: id
	clock func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Voicemail), clock: time.Now}
}

// SetClock overrides the repository clock for deterministic tests.
func (r *MemoryRepository) SetClock(clock func() time.Time) { r.clock = clock }

func (r *MemoryRepository) GetByProviderCallID(_ context.Context, tenantID, providerCallID string) (Voicemail, error) {
	if tenantID == "" || providerCallID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.rows {
		if v.TenantID == tenantID && v.ProviderCallID == providerCallID {
			return v, nil
		}
	}
	return Voicemail{}, ErrNotFound
}

// InsertDetached mirrors the SQL implementation's transactional
// probe-then-insert: both steps run under one lock hold.
func (r *MemoryRepository) InsertDetached(_ context.Context, v Voicemail, since time.Time) (bool, Voicemail, error) {
	if v.TenantID == "" || v.AssignedUserID == "" {
		return false, Voicemail{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.findRecentLocked(v.TenantID, v.AssignedUserID, v.FromNumber, v.ToNumber, since); ok {
		return false, existing, nil
	}
	out := r.insertLocked(v)
	return true, out, nil
}

func (r *MemoryRepository) findRecentLocked(tenantID, assignedUserID, fromNumber, toNumber string, since time.Time) (Voicemail, bool) {
	var best Voicemail
	found := false
	for _, v := range r.rows {
		if v.TenantID != tenantID || v.AssignedUserID != assignedUserID {
			continue
		}
		if v.FromNumber != fromNumber || v.ToNumber != toNumber {
			continue
		}
		if v.CreatedAt.Before(since) {
			continue
		}
		if !found || v.CreatedAt.After(best.CreatedAt) {
			best = v
			found = true
		}
	}
	return best, found
}

func (r *MemoryRepository) Insert(_ context.Context, v Voicemail) (Voicemail, error) {
	if v.TenantID == "" || v.AssignedUserID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ProviderCallID != "" {
		for id, existing := range r.rows {
			if existing.TenantID == v.TenantID && existing.ProviderCallID == v.ProviderCallID {
				existing.RecordingURL = v.RecordingURL
				if v.Transcript != "" {
					existing.Transcript = v.Transcript
				}
				existing.DurationSeconds = v.DurationSeconds
				existing.SanitizedPayload = v.SanitizedPayload
				existing.UpdatedAt = r.clock().UTC()
				r.rows[id] = existing
				return existing, nil
			}
		}
	}
	return r.insertLocked(v), nil
}

func (r *MemoryRepository) insertLocked(v Voicemail) Voicemail {
	now := r.clock().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = now
	v.UpdatedAt = now
	r.rows[v.ID] = v
	return v
}

func (r *MemoryRepository) Update(_ context.Context, v Voicemail) (Voicemail, error) {
	if v.ID == "" || v.TenantID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rows[v.ID]
	if !ok || existing.TenantID != v.TenantID {
		return Voicemail{}, ErrNotFound
	}
	existing.RecordingURL = v.RecordingURL
	existing.Transcript = v.Transcript
	existing.DurationSeconds = v.DurationSeconds
	existing.SanitizedPayload = v.SanitizedPayload
	existing.UpdatedAt = r.clock().UTC()
	r.rows[v.ID] = existing
	return existing, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID string, limit, offset int) ([]Voicemail, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voicemail
	for _, v := range r.rows {
		if v.TenantID == tenantID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count reports how many voicemails a tenant has, for test assertions.
func (r *MemoryRepository) Count(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.rows {
		if v.TenantID == tenantID {
			n++
		}
	}
	return n
}
