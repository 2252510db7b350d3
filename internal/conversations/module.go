// Package conversations provides the conversations bounded context module.
package conversations

import (
	"chatflow_backend/internal/conversations/handler"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/conversations/repository"
	"chatflow_backend/internal/conversations/service"
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/validator"
)

// Module is the conversations bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the agent and webhook routes. lifecycle is the handoff state
// machine of this process.
func NewModule(
	repo *repository.Repository,
	queue service.Queue,
	lifecycle service.Lifecycle,
	channels ports.ChannelResolver,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	svc := service.New(repo, queue, lifecycle, channels, log)
	return &Module{handler: handler.New(svc, val), service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "conversations"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts agent routes on the protected group and the inbound
// webhook on the public group behind the gateway secret and IP limiter.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/conversations"))

	webhooks := ctx.V1.Group("/webhooks")
	if ctx.WebhookRateLimiter != nil {
		webhooks.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	webhooks.Use(handler.RequireWebhookSecret(ctx.WebhookSecret))
	m.handler.RegisterWebhookRoutes(webhooks)
}

// AdminModule serves the AI breaker admin routes of the process owning the breaker.
type AdminModule struct {
	handler *handler.AdminHandler
}

func NewAdminModule(breaker service.Breaker, log *logger.Logger) *AdminModule {
	return &AdminModule{handler: handler.NewAdminHandler(service.NewBreakerAdmin(breaker, log))}
}

func (m *AdminModule) Name() string {
	return "conversations-admin"
}

func (m *AdminModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin)
}

// Compile-time checks that the modules implement http.Module
var (
	_ apphttp.Module = (*Module)(nil)
	_ apphttp.Module = (*AdminModule)(nil)
)
