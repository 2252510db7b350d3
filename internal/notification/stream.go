package notification

import (
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StreamModule exposes the SSE hub to authenticated agents on GET /api/v1/events.
type StreamModule struct {
	hub *sse.Service
}

func NewStreamModule(hub *sse.Service) *StreamModule {
	return &StreamModule{hub: hub}
}

func (m *StreamModule) Name() string {
	return "notification-stream"
}

func (m *StreamModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/events", m.hub.Handler(agentID, tenantID))
}

func agentID(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.UUID{}, false
	}
	return id.UserID(), true
}

func tenantID(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.UUID{}, false
	}
	return httpkit.MustGetTenantID(c, id)
}

var _ apphttp.Module = (*StreamModule)(nil)
