package sse

import (
	"testing"

	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

func TestPublishToTenantReachesOnlyThatTenant(t *testing.T) {
	s := New(logger.Nop())
	tenantA, tenantB := uuid.New(), uuid.New()

	a1, unsubA1 := s.Subscribe(uuid.New(), tenantA)
	defer unsubA1()
	a2, unsubA2 := s.Subscribe(uuid.New(), tenantA)
	defer unsubA2()
	b1, unsubB1 := s.Subscribe(uuid.New(), tenantB)
	defer unsubB1()

	if n := s.PublishToTenant(tenantA, Event{Type: EventHandoffRequested, TenantID: tenantA}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, ch := range []<-chan Event{a1, a2} {
		if ev := <-ch; ev.Type != EventHandoffRequested {
			t.Fatalf("event = %+v", ev)
		}
	}
	select {
	case ev := <-b1:
		t.Fatalf("tenant B received %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New(logger.Nop())
	tenantID := uuid.New()
	ch, unsubscribe := s.Subscribe(uuid.New(), tenantID)

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed")
	}
	if s.Connected(tenantID) != 0 {
		t.Fatal("client still registered")
	}
	unsubscribe()
}

func TestFullBufferDropsEvents(t *testing.T) {
	s := New(logger.Nop())
	tenantID := uuid.New()
	_, unsubscribe := s.Subscribe(uuid.New(), tenantID)
	defer unsubscribe()

	delivered := 0
	for i := 0; i < 40; i++ {
		delivered += s.PublishToTenant(tenantID, Event{Type: EventSecurityIncident, TenantID: tenantID})
	}
	if delivered != 32 {
		t.Fatalf("delivered = %d, want buffer size 32", delivered)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	s := New(logger.Nop())
	tenantID := uuid.New()
	ch, unsubscribe := s.Subscribe(uuid.New(), tenantID)

	s.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed")
	}
	unsubscribe()
}
