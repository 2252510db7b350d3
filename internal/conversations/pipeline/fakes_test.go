package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/handoff"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/conversations/scoring"
	"chatflow_backend/internal/conversations/security"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/retry"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu           sync.Mutex
	tenant       domain.Tenant
	lead         domain.Lead
	conversation domain.Conversation
	message      domain.Message
	history      []domain.Message
	missing      string

	flags     []string
	inserted  []domain.Message
	incidents []domain.SecurityIncident
	aiTurns   int
	lastModel string
}

func newFakeStore(status domain.ConversationStatus, content string) *fakeStore {
	tenant := domain.Tenant{
		ID:                  uuid.New(),
		Name:                "Loja Solar",
		BusinessDescription: "Venda e instalação de painéis solares",
		Channel:             "whatsapp",
		HandoffRules:        domain.DefaultHandoffRules(),
	}
	lead := domain.Lead{ID: uuid.New(), TenantID: tenant.ID, Name: "Ana", Phone: "+5511988887777", Score: 10, Stage: domain.StageNew}
	conv := domain.Conversation{ID: uuid.New(), TenantID: tenant.ID, LeadID: lead.ID, Channel: "whatsapp", Status: status}
	msg := domain.Message{
		ID:             uuid.New(),
		TenantID:       tenant.ID,
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		SenderType:     domain.SenderLead,
		Content:        content,
	}
	return &fakeStore{tenant: tenant, lead: lead, conversation: conv, message: msg}
}

func (s *fakeStore) job() domain.ProcessingJob {
	return domain.ProcessingJob{
		TenantID:       s.tenant.ID,
		LeadID:         s.lead.ID,
		ConversationID: s.conversation.ID,
		MessageID:      s.message.ID,
		CorrelationID:  "test-correlation",
	}
}

func (s *fakeStore) GetTenant(context.Context, uuid.UUID) (domain.Tenant, error) {
	if s.missing == "tenant" {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return s.tenant, nil
}

func (s *fakeStore) GetLead(context.Context, uuid.UUID, uuid.UUID) (domain.Lead, error) {
	if s.missing == "lead" {
		return domain.Lead{}, domain.ErrNotFound
	}
	return s.lead, nil
}

func (s *fakeStore) GetConversation(context.Context, uuid.UUID, uuid.UUID) (domain.Conversation, error) {
	if s.missing == "conversation" {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return s.conversation, nil
}

func (s *fakeStore) GetMessage(context.Context, uuid.UUID, uuid.UUID) (domain.Message, error) {
	if s.missing == "message" {
		return domain.Message{}, domain.ErrNotFound
	}
	return s.message, nil
}

func (s *fakeStore) ListRecentMessages(_ context.Context, _, _, _ uuid.UUID, limit int) ([]domain.Message, error) {
	if len(s.history) > limit {
		return s.history[len(s.history)-limit:], nil
	}
	return s.history, nil
}

func (s *fakeStore) SetInjectionFlags(_ context.Context, _, _ uuid.UUID, flags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append([]string(nil), flags...)
	return nil
}

func (s *fakeStore) InsertMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, msg)
	return nil
}

func (s *fakeStore) InsertSecurityIncident(_ context.Context, incident domain.SecurityIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, incident)
	return nil
}

func (s *fakeStore) RecordAITurn(_ context.Context, _, _ uuid.UUID, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiTurns++
	if model != "" {
		s.lastModel = model
	}
	return nil
}

func (s *fakeStore) incidentTypes() []domain.IncidentType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IncidentType, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Type)
	}
	return out
}

type fakeScoring struct {
	deltas []int
}

func (f *fakeScoring) UpdateScore(_ context.Context, lead domain.Lead, delta int, rules domain.HandoffRules, _ string) (scoring.Result, error) {
	f.deltas = append(f.deltas, delta)
	return scoring.Compute(lead.Score, lead.Stage, delta, rules), nil
}

type fakeHandoff struct {
	requests   []handoff.TriggerRequest
	reopened   int
	triggerErr error
}

func (f *fakeHandoff) TriggerHandoff(_ context.Context, req handoff.TriggerRequest) error {
	f.requests = append(f.requests, req)
	return f.triggerErr
}

func (f *fakeHandoff) Reopen(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if err := domain.ValidateTransition(conv.Status, domain.StatusAI); err != nil {
		return domain.Conversation{}, err
	}
	f.reopened++
	conv.Status = domain.StatusAI
	conv.ClosedAt = nil
	return conv, nil
}

type fakeAI struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeAI) Call(_ context.Context, systemPrompt, userPrompt string) (ports.AIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system, f.user = systemPrompt, userPrompt
	if f.err != nil {
		return ports.AIResponse{}, f.err
	}
	return ports.AIResponse{RawText: f.reply, TokensUsed: 120, ResponseTime: 300 * time.Millisecond, Model: "kimi-test"}, nil
}

type sentMessage struct {
	destination string
	text        string
}

type fakeChannel struct {
	sent []sentMessage
	err  error
}

func (f *fakeChannel) SendMessage(_ context.Context, destination, text string) (ports.DeliveryResult, error) {
	if f.err != nil {
		return ports.DeliveryResult{}, f.err
	}
	f.sent = append(f.sent, sentMessage{destination: destination, text: text})
	return ports.DeliveryResult{ExternalID: "wamid.test", Status: "sent"}, nil
}

func (f *fakeChannel) Resolve(context.Context, domain.Tenant) (ports.ChannelAdapter, error) {
	return f, nil
}

type countingRecorder struct {
	NopRecorder
	mu        sync.Mutex
	fallbacks []string
	aiCalls   []string
	handoffs  []string
}

func (r *countingRecorder) Fallback(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, reason)
}

func (r *countingRecorder) AICall(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aiCalls = append(r.aiCalls, outcome)
}

func (r *countingRecorder) Handoff(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs = append(r.handoffs, source)
}

var errAIDown = errors.New("ai service unavailable")

type harness struct {
	store    *fakeStore
	scoring  *fakeScoring
	handoff  *fakeHandoff
	ai       *fakeAI
	channel  *fakeChannel
	breaker  *circuitbreaker.Breaker
	recorder *countingRecorder
	orch     *Orchestrator
}

func newHarness(t *testing.T, status domain.ConversationStatus, content, aiReply string) *harness {
	t.Helper()
	sanitizer, err := security.DefaultSanitizer()
	if err != nil {
		t.Fatalf("sanitizer: %v", err)
	}
	validator, err := security.DefaultResponseValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	h := &harness{
		store:    newFakeStore(status, content),
		scoring:  &fakeScoring{},
		handoff:  &fakeHandoff{},
		ai:       &fakeAI{reply: aiReply},
		channel:  &fakeChannel{},
		breaker:  circuitbreaker.New(circuitbreaker.Settings{Name: "ai", Threshold: 5, Window: time.Minute, ResetTimeout: time.Minute}),
		recorder: &countingRecorder{},
	}
	h.orch, err = NewOrchestrator(Deps{
		Store:     h.store,
		AI:        h.ai,
		Channels:  h.channel,
		Breaker:   h.breaker,
		Retry:     retry.New(retry.Options{MaxRetries: 2}),
		Sanitizer: sanitizer,
		Validator: validator,
		Scoring:   h.scoring,
		Handoff:   h.handoff,
		Metrics:   h.recorder,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return h
}
