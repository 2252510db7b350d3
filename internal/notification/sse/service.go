// Package sse provides Server-Sent Events support for real-time agent notifications.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chatflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType represents different types of SSE events
type EventType string

const (
	EventHandoffRequested     EventType = "handoff_requested"
	EventConversationAssigned EventType = "conversation_assigned"
	EventReturnedToAI         EventType = "conversation_returned_to_ai"
	EventConversationClosed   EventType = "conversation_closed"
	EventSecurityIncident     EventType = "security_incident"
)

// Event represents an SSE event payload
type Event struct {
	Type           EventType      `json:"type"`
	TenantID       uuid.UUID      `json:"tenantId"`
	ConversationID uuid.UUID      `json:"conversationId,omitempty"`
	LeadID         uuid.UUID      `json:"leadId,omitempty"`
	Message        string         `json:"message,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	At             time.Time      `json:"at"`
}

const keepAliveInterval = 25 * time.Second

type client struct {
	agentID  uuid.UUID
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections per tenant.
type Service struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]map[*client]struct{}
	log     *logger.Logger
}

func New(log *logger.Logger) *Service {
	return &Service{
		tenants: make(map[uuid.UUID]map[*client]struct{}),
		log:     log,
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tenants[c.tenantID]
	if !ok {
		set = make(map[*client]struct{})
		s.tenants[c.tenantID] = set
	}
	set[c] = struct{}{}
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.tenants[c.tenantID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.tenants, c.tenantID)
	}
	close(c.events)
}

// PublishToTenant broadcasts an event to every connected agent of the tenant.
// Slow clients lose the event instead of blocking the publisher.
func (s *Service) PublishToTenant(tenantID uuid.UUID, event Event) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for c := range s.tenants[tenantID] {
		select {
		case c.events <- event:
			delivered++
		default:
			s.log.Warn("sse: event buffer full", "agentId", c.agentID, "type", event.Type)
		}
	}
	return delivered
}

// Subscribe registers a listener for a tenant's events. The channel is closed
// by the returned function or by Close.
func (s *Service) Subscribe(agentID, tenantID uuid.UUID) (<-chan Event, func()) {
	cl := &client{
		agentID:  agentID,
		tenantID: tenantID,
		events:   make(chan Event, 32),
	}
	s.addClient(cl)
	return cl.events, func() { s.removeClient(cl) }
}

// Connected returns the number of open connections for a tenant.
func (s *Service) Connected(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants[tenantID])
}

// Handler returns a Gin handler for SSE connections
func (s *Service) Handler(getAgentID func(*gin.Context) (uuid.UUID, bool), getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID, ok := getAgentID(c)
		if !ok {
			if !c.IsAborted() {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			return
		}
		tenantID, ok := getTenantID(c)
		if !ok {
			if !c.IsAborted() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant required"})
			}
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		events, unsubscribe := s.Subscribe(agentID, tenantID)
		defer unsubscribe()

		c.SSEvent("connected", gin.H{"agentId": agentID, "tenantId": tenantID})
		c.Writer.Flush()
		s.log.Debug("sse: client connected", "agentId", agentID, "tenantId", tenantID, "connections", s.Connected(tenantID))

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				s.log.Debug("sse: client disconnected", "agentId", agentID)
				return
			case <-keepAlive.C:
				c.SSEvent("ping", "")
				c.Writer.Flush()
			case event, ok := <-events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close disconnects every client.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, set := range s.tenants {
		for c := range set {
			close(c.events)
		}
	}
	s.tenants = make(map[uuid.UUID]map[*client]struct{})
}
