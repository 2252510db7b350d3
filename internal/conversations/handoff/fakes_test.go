package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"

	"github.com/google/uuid"
)

// memStore is an in-memory Store whose transactions are all-or-nothing.
type memStore struct {
	mu            sync.Mutex
	tenant        domain.Tenant
	leads         map[uuid.UUID]domain.Lead
	conversations map[uuid.UUID]domain.Conversation
	agentLoad     map[uuid.UUID]int
	messages      []domain.Message
	events        []domain.LeadEvent
	writes        int
	failOn        string
}

func newMemStore() *memStore {
	return &memStore{
		tenant:        domain.Tenant{ID: uuid.New(), Name: "Acme", HandoffRules: domain.DefaultHandoffRules()},
		leads:         map[uuid.UUID]domain.Lead{},
		conversations: map[uuid.UUID]domain.Conversation{},
		agentLoad:     map[uuid.UUID]int{},
	}
}

func (s *memStore) seed(status domain.ConversationStatus) domain.Conversation {
	lead := domain.Lead{ID: uuid.New(), TenantID: s.tenant.ID, Phone: "+5511999990000", Stage: domain.StageQualifying}
	conv := domain.Conversation{ID: uuid.New(), TenantID: s.tenant.ID, LeadID: lead.ID, Status: status}
	s.leads[lead.ID] = lead
	s.conversations[conv.ID] = conv
	return conv
}

func (s *memStore) GetTenant(_ context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	if tenantID != s.tenant.ID {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return s.tenant, nil
}

func (s *memStore) GetLead(_ context.Context, _, leadID uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[leadID]
	if !ok {
		return domain.Lead{}, domain.ErrNotFound
	}
	return lead, nil
}

func (s *memStore) GetConversation(_ context.Context, _, conversationID uuid.UUID) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return conv, nil
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:         s,
		leads:         cloneMap(s.leads),
		conversations: cloneMap(s.conversations),
		agentLoad:     cloneMap(s.agentLoad),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.leads = tx.leads
	s.conversations = tx.conversations
	s.agentLoad = tx.agentLoad
	s.messages = append(s.messages, tx.messages...)
	s.events = append(s.events, tx.events...)
	s.writes += tx.writes
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memTx struct {
	store         *memStore
	leads         map[uuid.UUID]domain.Lead
	conversations map[uuid.UUID]domain.Conversation
	agentLoad     map[uuid.UUID]int
	messages      []domain.Message
	events        []domain.LeadEvent
	writes        int
}

var errInjected = errors.New("injected failure")

func (tx *memTx) fail(op string) error {
	if tx.store.failOn == op {
		return errInjected
	}
	return nil
}

func (tx *memTx) TransitionConversation(_ context.Context, t domain.ConversationTransition) (domain.Conversation, error) {
	if err := tx.fail("transition"); err != nil {
		return domain.Conversation{}, err
	}
	conv, ok := tx.conversations[t.ConversationID]
	if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	if conv.Status != t.From {
		return domain.Conversation{}, &domain.InvalidTransitionError{From: conv.Status, To: t.To}
	}
	conv.Status = t.To
	conv.AssignedAgentID = t.AssignedAgentID
	conv.HandoffReason = t.HandoffReason
	conv.HandoffAt = t.HandoffAt
	conv.ClosedAt = t.ClosedAt
	conv.UpdatedAt = t.At
	tx.conversations[conv.ID] = conv
	tx.writes++
	return conv, nil
}

func (tx *memTx) UpdateLeadStage(_ context.Context, _, leadID uuid.UUID, stage domain.LeadStage) error {
	if err := tx.fail("stage"); err != nil {
		return err
	}
	lead := tx.leads[leadID]
	lead.Stage = stage
	tx.leads[leadID] = lead
	tx.writes++
	return nil
}

func (tx *memTx) InsertMessage(_ context.Context, msg domain.Message) error {
	if err := tx.fail("message"); err != nil {
		return err
	}
	tx.messages = append(tx.messages, msg)
	tx.writes++
	return nil
}

func (tx *memTx) InsertLeadEvent(_ context.Context, event domain.LeadEvent) error {
	if err := tx.fail("event"); err != nil {
		return err
	}
	tx.events = append(tx.events, event)
	tx.writes++
	return nil
}

func (tx *memTx) IncrementAgentLoad(_ context.Context, _, agentID uuid.UUID) error {
	if err := tx.fail("increment"); err != nil {
		return err
	}
	tx.agentLoad[agentID]++
	tx.writes++
	return nil
}

func (tx *memTx) DecrementAgentLoad(_ context.Context, _, agentID uuid.UUID) error {
	if tx.agentLoad[agentID] > 0 {
		tx.agentLoad[agentID]--
	}
	tx.writes++
	return nil
}

type scheduledTimeout struct {
	conversationID uuid.UUID
	delay          time.Duration
}

type fakeScheduler struct {
	mu            sync.Mutex
	timeouts      []scheduledTimeout
	cancelled     []uuid.UUID
	notifications []domain.AgentNotification
	scheduleErr   error
}

func (f *fakeScheduler) ScheduleHandoffTimeout(_ context.Context, _, conversationID uuid.UUID, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.timeouts = append(f.timeouts, scheduledTimeout{conversationID: conversationID, delay: delay})
	return nil
}

func (f *fakeScheduler) CancelHandoffTimeout(_ context.Context, conversationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, conversationID)
	return nil
}

func (f *fakeScheduler) EnqueueAgentNotification(_ context.Context, n domain.AgentNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

type sentMessage struct {
	destination string
	text        string
}

type fakeChannel struct {
	sent []sentMessage
}

func (c *fakeChannel) SendMessage(_ context.Context, destination, text string) (ports.DeliveryResult, error) {
	c.sent = append(c.sent, sentMessage{destination: destination, text: text})
	return ports.DeliveryResult{Status: "sent"}, nil
}

func (c *fakeChannel) Resolve(context.Context, domain.Tenant) (ports.ChannelAdapter, error) {
	return c, nil
}
