package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"telephony-events/internal/auth"
	"telephony-events/internal/calls"
	"telephony-events/internal/events"
	"telephony-events/internal/messages"
	"telephony-events/internal/provider"
	"telephony-events/internal/reporting"
	"telephony-events/internal/tenancy"
	"telephony-events/internal/voicemail"
	"telephony-events/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const webhookTokenHeader = "X-Webhook-Token"

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Tenants tenancy.Resolver

	Events     events.Store
	Calls      calls.Repository
	Voicemails voicemail.Repository
	Messages   messages.Repository
	Reports    *reporting.Service

	// WebhookToken, when non-empty, must match the X-Webhook-Token header
	// on webhook deliveries.
	WebhookToken string
}

// --- Webhook ingestion ---

// IngestWebhook accepts one provider delivery and durably queues it.
// Interpretation happens later in the processor; this path only parses the
// envelope, resolves the tenant, and appends. Duplicates and unknown
// organizations are acknowledged with 200 so the provider does not retry
// deliveries we have deliberately settled.
func (h Handlers) IngestWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	if h.WebhookToken != "" && c.GetHeader(webhookTokenHeader) != h.WebhookToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	env, err := provider.ParseEnvelope(c.Request)
	if err != nil {
		if errors.Is(err, provider.ErrBodyTooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		log.Warn("webhook envelope rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed envelope"})
		return
	}

	tenant, err := h.Tenants.ResolveTenantByOrg(c.Request.Context(), env.OrganizationID)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) || errors.Is(err, tenancy.ErrInvalidArgument) {
			log.Warn("webhook for unknown organization dropped",
				"organization_id", env.OrganizationID,
				"event_type", env.EventType,
			)
			c.JSON(http.StatusOK, gin.H{"accepted": false})
			return
		}
		log.Error("tenant resolution failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tenant resolution failed"})
		return
	}

	// A delivery without an event id cannot be deduplicated; give it a
	// synthetic one so it is still queueable.
	if env.EventID == "" {
		env.EventID = "synthetic-" + uuid.NewString()
	}

	inserted, err := h.Events.Enqueue(c.Request.Context(), events.EnqueueParams{
		TenantID:        tenant.ID,
		EventType:       env.EventType,
		ProviderEventID: env.EventID,
		Payload:         env.Data,
	})
	if err != nil {
		log.Error("event enqueue failed", "provider_event_id", env.EventID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	if !inserted {
		log.Info("duplicate delivery settled", "provider_event_id", env.EventID)
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true, "duplicate": !inserted})
}

// --- Auth ---

type tokenRequest struct {
	APIKey    string `json:"api_key"`
	EndUserID string `json:"end_user_id,omitempty"`
}

// IssueToken exchanges a tenant API key for a JWT pair.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.APIKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "api_key required"})
		return
	}

	tenant, err := h.Tenants.ResolveTenantByKey(c.Request.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) || errors.Is(err, tenancy.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "key resolution failed"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), tenant.ID, req.EndUserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Reads ---

func (h Handlers) ListCalls(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Calls.List(c.Request.Context(), tenantID, calls.ListFilter{
		Status: calls.Status(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		logger.FromGin(c).Error("call list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": emptyIfNil(rows)})
}

func (h Handlers) ListVoicemails(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Voicemails.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		logger.FromGin(c).Error("voicemail list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voicemails": emptyIfNil(rows)})
}

func (h Handlers) ListMessages(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Messages.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		logger.FromGin(c).Error("message list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": emptyIfNil(rows)})
}

// --- Reporting ---

// CallsSummary aggregates call outcomes for the authenticated tenant over a
// from/to range (RFC 3339 query parameters, defaulting to the last 24h).
func (h Handlers) CallsSummary(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rng.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rng.To = t
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID: tenantID,
		Range:    rng,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// PipelineStats is the operator view of queue depth and lag.
func (h Handlers) PipelineStats(c *gin.Context) {
	out, err := h.Reports.Pipeline(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("pipeline stats failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- helpers ---

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}

func emptyIfNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
