package handler

import (
	"chatflow_backend/internal/conversations/service"
	"chatflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves operator routes for the AI circuit breaker.
type AdminHandler struct {
	admin *service.BreakerAdmin
}

func NewAdminHandler(admin *service.BreakerAdmin) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ai-breaker", h.BreakerStatus)
	rg.POST("/ai-breaker/reset", h.ResetBreaker)
}

func (h *AdminHandler) BreakerStatus(c *gin.Context) {
	httpkit.OK(c, h.admin.Status())
}

func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	httpkit.OK(c, h.admin.Reset())
}
