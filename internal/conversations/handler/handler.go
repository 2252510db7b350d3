package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"chatflow_backend/internal/conversations/service"
	"chatflow_backend/internal/conversations/transport"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/phone"
	"chatflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	govalidator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	// WebhookSecretHeader carries the shared secret of the channel gateway.
	WebhookSecretHeader = "X-Webhook-Secret"
)

// Handler handles HTTP requests for conversations.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new conversations handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the agent routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/:id/messages", h.ListMessages)
	rg.POST("/:id/claim", h.Claim)
	rg.POST("/:id/return", h.ReturnToAI)
	rg.POST("/:id/close", h.Close)
	rg.POST("/:id/messages", h.SendHumanReply)
}

// RegisterWebhookRoutes registers the inbound gateway routes.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/inbound", h.IngestInbound)
}

func (h *Handler) IngestInbound(c *gin.Context) {
	var req transport.InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, validationError(err))
		return
	}

	result, err := h.svc.IngestInbound(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusAccepted, result)
}

func (h *Handler) List(c *gin.Context) {
	var req transport.ListConversationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, validationError(err))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c, identity)
	if !ok {
		return
	}

	result, err := h.svc.ListConversations(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

func (h *Handler) ListMessages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	var req transport.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, validationError(err))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c, identity)
	if !ok {
		return
	}

	result, err := h.svc.ListMessages(c.Request.Context(), tenantID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

func (h *Handler) Claim(c *gin.Context) {
	h.agentAction(c, h.svc.Claim)
}

func (h *Handler) ReturnToAI(c *gin.Context) {
	h.agentAction(c, h.svc.ReturnToAI)
}

func (h *Handler) Close(c *gin.Context) {
	h.agentAction(c, h.svc.Close)
}

type agentActionFunc func(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (transport.ConversationResponse, error)

// agentAction runs a lifecycle action on behalf of the calling agent.
func (h *Handler) agentAction(c *gin.Context, action agentActionFunc) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c, identity)
	if !ok {
		return
	}

	result, err := action(c.Request.Context(), tenantID, id, identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

func (h *Handler) SendHumanReply(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	var req transport.HumanReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, validationError(err))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := httpkit.MustGetTenantID(c, identity)
	if !ok {
		return
	}

	result, err := h.svc.SendHumanReply(c.Request.Context(), tenantID, id, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, result)
}

func validationError(err error) error {
	appErr := apperr.Validation(msgValidationFailed)
	if fields := validator.Fields(err); len(fields) > 0 {
		appErr = appErr.WithDetails(fields)
	}
	return appErr
}

// RegisterValidations adds the custom tags used by the request DTOs. region is
// applied to phone numbers sent without a country code.
func RegisterValidations(val *validator.Validator, region string) error {
	return val.RegisterValidation("phone", func(fl govalidator.FieldLevel) bool {
		return phone.IsPossible(fl.Field().String(), region)
	})
}

// RequireWebhookSecret rejects gateway calls without the shared secret. An empty
// secret disables the check.
func RequireWebhookSecret(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(WebhookSecretHeader))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			httpkit.Abort(c, apperr.Unauthorized("invalid webhook secret"))
			return
		}
		c.Next()
	}
}
