package httpapi

import (
	"net/http"
	"time"

	"telephony-events/internal/auth"
	"telephony-events/internal/broadcast"
	"telephony-events/internal/config"
	"telephony-events/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// SubscribeHandler upgrades authenticated clients to a live event stream.
// Auth happens before the upgrade: browsers cannot send headers on upgrade
// requests, so the token may also arrive as a query parameter.
type SubscribeHandler struct {
	Auth *auth.Manager
	Hub  *broadcast.Hub
	Cfg  config.BroadcastConfig

	upgrader websocket.Upgrader
}

func NewSubscribeHandler(m *auth.Manager, hub *broadcast.Hub, cfg config.BroadcastConfig) *SubscribeHandler {
	return &SubscribeHandler{
		Auth: m,
		Hub:  hub,
		Cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin subscriptions are allowed; the bearer token is
			// the access control, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *SubscribeHandler) Subscribe(c *gin.Context) {
	log := logger.FromGin(c)

	tok := auth.BearerToken(c)
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := h.Auth.Verify(tok, auth.TokenTypeAccess, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := broadcast.NewWSConn(ws, broadcast.WSConnConfig{
		EndUserID:    claims.EndUserID,
		SendBuffer:   h.Cfg.SendBuffer,
		WriteTimeout: h.Cfg.WriteTimeout,
	})
	h.Hub.Subscribe(claims.TenantID, conn)
	log.Info("subscriber connected",
		"tenant_id", claims.TenantID,
		"end_user_id", claims.EndUserID,
	)

	<-conn.Done()
	h.Hub.Unsubscribe(claims.TenantID, conn)
	log.Info("subscriber disconnected", "tenant_id", claims.TenantID)
}
