package tenancy

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"telephony-events/pkg/logger"
	"telephony-events/pkg/store"
)

var (
	ErrTenantNotFound  = errors.New("tenancy: tenant not found")
	ErrInvalidArgument = errors.New("tenancy: invalid argument")
)

// Tenant is one customer organization. ProviderOrgID links it to the
// upstream telephony provider account the webhooks arrive for.
type Tenant struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	ProviderOrgID string    `json:"provider_org_id" db:"provider_org_id"`
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

const (
	cacheTenantByOrg = "tenant:org:"
	cacheTenantByKey = "tenant:key:"
	cacheUserMapping = "tenant:user:"

	cacheTTL = 5 * time.Minute
)

// Service resolves tenants and user mappings. Lookups hit Redis first and
// fall back to Postgres; a nil Redis client degrades to database-only.
//
// NOTE: Service reads from the following tables:
//
//	tenants (
//	  id              UUID PRIMARY KEY,
//	  name            TEXT NOT NULL,
//	  provider_org_id TEXT NOT NULL UNIQUE,
//	  active          BOOLEAN NOT NULL DEFAULT TRUE,
//	  created_at      TIMESTAMPTZ NOT NULL
//	)
//
//	api_keys (
//	  key_hash   TEXT PRIMARY KEY,
//	  tenant_id  UUID NOT NULL REFERENCES tenants(id),
//	  revoked_at TIMESTAMPTZ
//	)
//
//	user_mappings (
//	  tenant_id        UUID NOT NULL REFERENCES tenants(id),
//	  provider_user_id TEXT NOT NULL,
//	  end_user_id      TEXT NOT NULL,
//	  PRIMARY KEY (tenant_id, provider_user_id)
//	)
type Service struct {
	db  *sql.DB
	rdb *redis.Client
}

func NewService(db *sql.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb}
}

// hashKey is the at-rest form of an API key. Plaintext keys are never
// stored or cached.
func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// ResolveTenantByKey authenticates a raw API key and returns the owning
// tenant. Revoked keys and inactive tenants resolve to ErrTenantNotFound.
func (s *Service) ResolveTenantByKey(ctx context.Context, apiKey string) (Tenant, error) {
	if apiKey == "" {
		return Tenant{}, ErrInvalidArgument
	}
	keyHash := hashKey(apiKey)

	if id, ok := s.cacheGet(ctx, cacheTenantByKey+keyHash); ok {
		if t, err := s.tenantByID(ctx, id); err == nil {
			return t, nil
		}
	}

	q := `
SELECT t.id, t.name, t.provider_org_id, t.active, t.created_at
FROM api_keys k
JOIN tenants t ON t.id = k.tenant_id
WHERE k.key_hash = $1 AND k.revoked_at IS NULL AND t.active`

	t, err := scanTenant(s.db.QueryRowContext(ctx, q, keyHash))
	if err != nil {
		return Tenant{}, err
	}
	s.cacheSet(ctx, cacheTenantByKey+keyHash, t.ID)
	return t, nil
}

// ResolveTenantByOrg maps a provider organization id, as carried by webhook
// envelopes, to the tenant it belongs to.
func (s *Service) ResolveTenantByOrg(ctx context.Context, providerOrgID string) (Tenant, error) {
	if providerOrgID == "" {
		return Tenant{}, ErrInvalidArgument
	}
	if id, ok := s.cacheGet(ctx, cacheTenantByOrg+providerOrgID); ok {
		if t, err := s.tenantByID(ctx, id); err == nil {
			return t, nil
		}
	}

	q := `
SELECT id, name, provider_org_id, active, created_at
FROM tenants
WHERE provider_org_id = $1 AND active`

	t, err := scanTenant(s.db.QueryRowContext(ctx, q, providerOrgID))
	if err != nil {
		return Tenant{}, err
	}
	s.cacheSet(ctx, cacheTenantByOrg+providerOrgID, t.ID)
	return t, nil
}

// LookupEndUser resolves the internal user behind a provider user id.
// Implements the broadcast fan-out's lookup contract. An absent mapping is
// not an error.
func (s *Service) LookupEndUser(ctx context.Context, tenantID, providerUserID string) (string, bool, error) {
	if tenantID == "" || providerUserID == "" {
		return "", false, nil
	}
	cacheKey := cacheUserMapping + tenantID + ":" + providerUserID
	if id, ok := s.cacheGet(ctx, cacheKey); ok {
		return id, true, nil
	}

	q := `SELECT end_user_id FROM user_mappings WHERE tenant_id = $1 AND provider_user_id = $2`
	var endUserID string
	err := s.db.QueryRowContext(ctx, q, tenantID, providerUserID).Scan(&endUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s.cacheSet(ctx, cacheKey, endUserID)
	return endUserID, true, nil
}

func (s *Service) tenantByID(ctx context.Context, id string) (Tenant, error) {
	q := `
SELECT id, name, provider_org_id, active, created_at
FROM tenants
WHERE id = $1 AND active`
	return scanTenant(s.db.QueryRowContext(ctx, q, id))
}

func (s *Service) cacheGet(ctx context.Context, key string) (string, bool) {
	v, ok, err := store.CacheGet(ctx, s.rdb, key)
	if err != nil {
		// Cache trouble is never fatal for a lookup.
		logger.From(ctx).Warn("tenant cache read failed", "key", key, "err", err)
		return "", false
	}
	return v, ok
}

func (s *Service) cacheSet(ctx context.Context, key, value string) {
	if err := store.CacheSet(ctx, s.rdb, key, value, cacheTTL); err != nil {
		logger.From(ctx).Warn("tenant cache write failed", "key", key, "err", err)
	}
}

func scanTenant(row *sql.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.ProviderOrgID, &t.Active, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}
