package provider

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func parse(t *testing.T, body string) (Envelope, error) {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/webhooks/provider", strings.NewReader(body))
	return ParseEnvelope(req)
}

func TestParseEnvelope_CanonicalFields(t *testing.T) {
	env, err := parse(t, `{
		"event_id": "evt-1",
		"event_type": "call.ring",
		"organization_id": "org-1",
		"data": {"call": {"id": "c-1"}}
	}`)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.EventID != "evt-1" || env.EventType != "call.ring" || env.OrganizationID != "org-1" {
		t.Fatalf("envelope = %+v", env)
	}
	if !strings.Contains(string(env.Data), "c-1") {
		t.Errorf("data not preserved: %s", env.Data)
	}
}

func TestParseEnvelope_AliasFields(t *testing.T) {
	env, err := parse(t, `{"id": "evt-2", "type": "call.ended", "org_id": "org-9"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.EventID != "evt-2" || env.EventType != "call.ended" || env.OrganizationID != "org-9" {
		t.Fatalf("envelope = %+v", env)
	}
	if string(env.Data) != "{}" {
		t.Errorf("missing data should default to {}, got %s", env.Data)
	}
}

func TestParseEnvelope_CanonicalWinsOverAlias(t *testing.T) {
	env, err := parse(t, `{"id": "short", "event_id": "long", "event_type": "call.ring"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.EventID != "long" {
		t.Errorf("event id = %q, want canonical field to win", env.EventID)
	}
}

func TestParseEnvelope_MissingTypeRejected(t *testing.T) {
	_, err := parse(t, `{"event_id": "evt-3", "data": {}}`)
	if !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestParseEnvelope_BadJSONRejected(t *testing.T) {
	_, err := parse(t, `{not json`)
	if !errors.Is(err, ErrBadEnvelope) {
		t.Fatalf("err = %v, want ErrBadEnvelope", err)
	}
}

func TestParseEnvelope_OversizedBodyRejected(t *testing.T) {
	pad := strings.Repeat("x", MaxBodyBytes)
	_, err := parse(t, `{"event_type": "call.ring", "data": {"pad": "`+pad+`"}}`)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}
