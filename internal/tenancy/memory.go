package tenancy

import (
	"context"
	"sync"
)

// Resolver is the slice of Service the transport layer depends on.
type Resolver interface {
	ResolveTenantByKey(ctx context.Context, apiKey string) (Tenant, error)
	ResolveTenantByOrg(ctx context.Context, providerOrgID string) (Tenant, error)
	LookupEndUser(ctx context.Context, tenantID, providerUserID string) (string, bool, error)
}

// MemoryService is an in-memory Resolver used in tests.
type MemoryService struct {
	mu       sync.RWMutex
	byKey    map[string]Tenant // plaintext api key
	byOrg    map[string]Tenant
	mappings map[string]string // tenantID + ":" + providerUserID
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		byKey:    make(map[string]Tenant),
		byOrg:    make(map[string]Tenant),
		mappings: make(map[string]string),
	}
}

func (m *MemoryService) AddTenant(t Tenant, apiKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if apiKey != "" {
		m.byKey[apiKey] = t
	}
	if t.ProviderOrgID != "" {
		m.byOrg[t.ProviderOrgID] = t
	}
}

func (m *MemoryService) AddUserMapping(tenantID, providerUserID, endUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[tenantID+":"+providerUserID] = endUserID
}

func (m *MemoryService) ResolveTenantByKey(_ context.Context, apiKey string) (Tenant, error) {
	if apiKey == "" {
		return Tenant{}, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byKey[apiKey]
	if !ok || !t.Active {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (m *MemoryService) ResolveTenantByOrg(_ context.Context, providerOrgID string) (Tenant, error) {
	if providerOrgID == "" {
		return Tenant{}, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byOrg[providerOrgID]
	if !ok || !t.Active {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (m *MemoryService) LookupEndUser(_ context.Context, tenantID, providerUserID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.mappings[tenantID+":"+providerUserID]
	return id, ok, nil
}
