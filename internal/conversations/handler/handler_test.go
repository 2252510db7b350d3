package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/service"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubStore struct {
	service.Store
	agent domain.Agent
}

func (s *stubStore) IngestInbound(_ context.Context, in domain.InboundMessage) (domain.IngestResult, error) {
	return domain.IngestResult{
		Lead:         domain.Lead{ID: uuid.New(), TenantID: in.TenantID},
		Conversation: domain.Conversation{ID: uuid.New()},
		Message:      domain.Message{ID: uuid.New()},
	}, nil
}

func (s *stubStore) GetAgent(context.Context, uuid.UUID, uuid.UUID) (domain.Agent, error) {
	return s.agent, nil
}

type stubQueue struct{ jobs int }

func (q *stubQueue) EnqueueProcessing(context.Context, domain.ProcessingJob) error {
	q.jobs++
	return nil
}

type stubLifecycle struct {
	service.Lifecycle
	err error
}

func (l *stubLifecycle) AssignToAgent(_ context.Context, _, conversationID, agentID uuid.UUID) (domain.Conversation, error) {
	if l.err != nil {
		return domain.Conversation{}, l.err
	}
	return domain.Conversation{ID: conversationID, Status: domain.StatusHuman, AssignedAgentID: &agentID}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(lifecycle *stubLifecycle, queue *stubQueue, secret string, identity func(*gin.Context)) *gin.Engine {
	svc := service.New(&stubStore{agent: domain.Agent{IsActive: true}}, queue, lifecycle, nil, logger.Nop())
	val := validator.New()
	if err := RegisterValidations(val, "BR"); err != nil {
		panic(err)
	}
	h := New(svc, val)

	engine := gin.New()
	v1 := engine.Group("/api/v1")
	h.RegisterWebhookRoutes(v1.Group("/webhooks", RequireWebhookSecret(secret)))
	protected := v1.Group("/conversations")
	if identity != nil {
		protected.Use(identity)
	}
	h.RegisterRoutes(protected)
	return engine
}

func asAgent(agentID, tenantID uuid.UUID) func(*gin.Context) {
	return func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, agentID)
		c.Set(httpkit.ContextRolesKey, []string{"agent"})
		c.Set(httpkit.ContextTenantIDKey, tenantID)
		c.Next()
	}
}

func doJSON(engine *gin.Engine, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func inboundBody() map[string]any {
	return map[string]any{
		"tenantId":   uuid.NewString(),
		"channel":    "whatsapp",
		"phone":      "+5511999990000",
		"text":       "Oi",
		"externalId": "wamid.42",
	}
}

func TestInboundWebhookRequiresSecret(t *testing.T) {
	queue := &stubQueue{}
	engine := newEngine(&stubLifecycle{}, queue, "s3cret", nil)

	rec := doJSON(engine, http.MethodPost, "/api/v1/webhooks/inbound", inboundBody(), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	rec = doJSON(engine, http.MethodPost, "/api/v1/webhooks/inbound", inboundBody(), map[string]string{WebhookSecretHeader: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d, want 401", rec.Code)
	}

	rec = doJSON(engine, http.MethodPost, "/api/v1/webhooks/inbound", inboundBody(), map[string]string{WebhookSecretHeader: "s3cret"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Enqueued bool `json:"enqueued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp.Enqueued {
		t.Fatalf("resp = %s", rec.Body.String())
	}
	if queue.jobs != 1 {
		t.Fatalf("jobs = %d", queue.jobs)
	}
}

func TestInboundWebhookValidation(t *testing.T) {
	engine := newEngine(&stubLifecycle{}, &stubQueue{}, "", nil)

	body := inboundBody()
	body["channel"] = "telegram"
	rec := doJSON(engine, http.MethodPost, "/api/v1/webhooks/inbound", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	body = inboundBody()
	body["phone"] = "call me"
	rec = doJSON(engine, http.MethodPost, "/api/v1/webhooks/inbound", body, nil)
	if rec.Code != http.StatusBadRequest || !bytes.Contains(rec.Body.Bytes(), []byte("Phone")) {
		t.Fatalf("bad phone status = %d body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/inbound", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d, want 400", rec.Code)
	}
}

func TestClaim(t *testing.T) {
	agentID, tenantID := uuid.New(), uuid.New()
	engine := newEngine(&stubLifecycle{}, &stubQueue{}, "", asAgent(agentID, tenantID))
	convID := uuid.New()

	rec := doJSON(engine, http.MethodPost, "/api/v1/conversations/"+convID.String()+"/claim", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID              uuid.UUID `json:"id"`
		Status          string    `json:"status"`
		AssignedAgentID uuid.UUID `json:"assignedAgentId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != convID || resp.Status != "human" || resp.AssignedAgentID != agentID {
		t.Fatalf("resp = %+v", resp)
	}

	rec = doJSON(engine, http.MethodPost, "/api/v1/conversations/not-a-uuid/claim", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestClaimConflictAndAuth(t *testing.T) {
	lifecycle := &stubLifecycle{err: &domain.InvalidTransitionError{From: domain.StatusHuman, To: domain.StatusHuman}}
	engine := newEngine(lifecycle, &stubQueue{}, "", asAgent(uuid.New(), uuid.New()))

	rec := doJSON(engine, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/claim", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	anonymous := newEngine(&stubLifecycle{}, &stubQueue{}, "", nil)
	rec = doJSON(anonymous, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/claim", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	noTenant := newEngine(&stubLifecycle{}, &stubQueue{}, "", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Next()
	})
	rec = doJSON(noTenant, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/claim", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no tenant status = %d, want 403", rec.Code)
	}
}

func TestClaimInternalErrorHidesDetails(t *testing.T) {
	engine := newEngine(&stubLifecycle{err: errors.New("pq: connection reset")}, &stubQueue{}, "", asAgent(uuid.New(), uuid.New()))

	rec := doJSON(engine, http.MethodPost, "/api/v1/conversations/"+uuid.NewString()+"/claim", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("connection reset")) {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

func TestAdminBreakerRoutes(t *testing.T) {
	b := circuitbreaker.New(circuitbreaker.Settings{Name: "ai", Threshold: 1})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	engine := gin.New()
	NewAdminHandler(service.NewBreakerAdmin(b, logger.Nop())).RegisterRoutes(engine.Group("/api/v1/admin"))

	rec := doJSON(engine, http.MethodGet, "/api/v1/admin/ai-breaker", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"state":"open"`)) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(engine, http.MethodPost, "/api/v1/admin/ai-breaker/reset", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"state":"closed"`)) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("breaker state = %s", b.State())
	}
}
