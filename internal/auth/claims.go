package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: TenantID must be present on every token; every
// read and every live subscription is scoped by it. EndUserID is optional
// and narrows a subscription to one agent's events.
type Claims struct {
	jwt.RegisteredClaims

	TenantID  string    `json:"tenant_id"`
	EndUserID string    `json:"end_user_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}
