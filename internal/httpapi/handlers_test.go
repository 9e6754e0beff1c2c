package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"telephony-events/internal/auth"
	"telephony-events/internal/calls"
	"telephony-events/internal/config"
	"telephony-events/internal/events"
	"telephony-events/internal/tenancy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDeps(t *testing.T) (Handlers, *events.MemoryStore, *tenancy.MemoryService, *auth.Manager) {
	t.Helper()
	store := events.NewMemoryStore()
	tenants := tenancy.NewMemoryService()
	tenants.AddTenant(tenancy.Tenant{ID: "t-1", Name: "Acme", ProviderOrgID: "org-1", Active: true}, "key-1")

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	h := Handlers{
		Auth:    mgr,
		Tenants: tenants,
		Events:  store,
		Calls:   calls.NewMemoryRepository(),
	}
	return h, store, tenants, mgr
}

func doJSON(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestWebhook_QueuesEvent(t *testing.T) {
	h, store, _, _ := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	w := doJSON(r, "POST", "/v1/webhooks/provider", `{
		"event_id": "evt-1",
		"event_type": "call.ring",
		"organization_id": "org-1",
		"data": {"call": {"id": "c-1"}}
	}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	evt, ok := store.Event("evt-1")
	if !ok {
		t.Fatal("event was not queued")
	}
	if evt.TenantID != "t-1" || evt.EventType != "call.ring" {
		t.Errorf("queued event = %+v", evt)
	}
}

func TestIngestWebhook_DuplicateSettledWith200(t *testing.T) {
	h, _, _, _ := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	body := `{"event_id": "evt-1", "event_type": "call.ring", "organization_id": "org-1"}`
	first := doJSON(r, "POST", "/v1/webhooks/provider", body, nil)
	second := doJSON(r, "POST", "/v1/webhooks/provider", body, nil)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d / %d, want 200 both times", first.Code, second.Code)
	}
	var out struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Duplicate {
		t.Error("second delivery not flagged as duplicate")
	}
}

func TestIngestWebhook_UnknownOrgAcknowledgedNotQueued(t *testing.T) {
	h, store, _, _ := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	w := doJSON(r, "POST", "/v1/webhooks/provider",
		`{"event_id": "evt-9", "event_type": "call.ring", "organization_id": "org-nope"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 acknowledgement", w.Code)
	}
	if _, ok := store.Event("evt-9"); ok {
		t.Error("event for unknown organization was queued")
	}
	if n, _ := store.UnprocessedCount(context.Background()); n != 0 {
		t.Errorf("unprocessed = %d, want 0", n)
	}
}

func TestIngestWebhook_MalformedRejected(t *testing.T) {
	h, _, _, _ := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	if w := doJSON(r, "POST", "/v1/webhooks/provider", `{not json`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", w.Code)
	}
	if w := doJSON(r, "POST", "/v1/webhooks/provider", `{"organization_id": "org-1"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing type status = %d, want 400", w.Code)
	}
}

func TestIngestWebhook_TokenEnforcedWhenConfigured(t *testing.T) {
	h, _, _, _ := newTestDeps(t)
	h.WebhookToken = "hook-secret"
	r := gin.New()
	r.POST("/v1/webhooks/provider", h.IngestWebhook)

	body := `{"event_id": "evt-1", "event_type": "call.ring", "organization_id": "org-1"}`
	if w := doJSON(r, "POST", "/v1/webhooks/provider", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", w.Code)
	}
	if w := doJSON(r, "POST", "/v1/webhooks/provider", body, map[string]string{"X-Webhook-Token": "hook-secret"}); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

func TestIssueToken_ExchangesAPIKey(t *testing.T) {
	h, _, _, mgr := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/auth/token", h.IssueToken)

	w := doJSON(r, "POST", "/v1/auth/token", `{"api_key": "key-1", "end_user_id": "user-7"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := mgr.Verify(out.AccessToken, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.TenantID != "t-1" || claims.EndUserID != "user-7" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssueToken_RejectsBadKey(t *testing.T) {
	h, _, _, _ := newTestDeps(t)
	r := gin.New()
	r.POST("/v1/auth/token", h.IssueToken)

	if w := doJSON(r, "POST", "/v1/auth/token", `{"api_key": "wrong"}`, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w := doJSON(r, "POST", "/v1/auth/token", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty key status = %d, want 400", w.Code)
	}
}

func TestListCalls_TenantScopedViaToken(t *testing.T) {
	h, _, _, mgr := newTestDeps(t)
	repo := h.Calls.(*calls.MemoryRepository)
	seed := []calls.Call{
		{TenantID: "t-1", ProviderCallID: "c-1", Status: calls.StatusEnded},
		{TenantID: "t-1", ProviderCallID: "c-2", Status: calls.StatusMissed},
		{TenantID: "t-2", ProviderCallID: "c-3", Status: calls.StatusEnded},
	}
	for _, c := range seed {
		if _, err := repo.Upsert(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	r := gin.New()
	v1 := r.Group("/v1", auth.RequireAccessToken(mgr))
	v1.GET("/calls", h.ListCalls)

	pair, err := mgr.IssuePair(time.Now(), "t-1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := doJSON(r, "GET", "/v1/calls", "", map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var out struct {
		Calls []calls.Call `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Calls) != 2 {
		t.Errorf("calls = %d, want 2 (tenant isolation)", len(out.Calls))
	}

	if w := doJSON(r, "GET", "/v1/calls", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}
}
