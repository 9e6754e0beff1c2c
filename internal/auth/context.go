package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxTenantID ctxKey = iota
	ctxEndUserID
)

func WithIdentity(ctx context.Context, tenantID, endUserID string) context.Context {
	ctx = context.WithValue(ctx, ctxTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxEndUserID, endUserID)
	return ctx
}

func TenantID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxTenantID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("tenant_id not in context")
}

// EndUserID returns the optional end-user identity; empty means a
// tenant-level token.
func EndUserID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxEndUserID).(string); ok {
		return s
	}
	return ""
}
