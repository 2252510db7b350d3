package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrChannelUnavailable is returned when the tenant's channel has no configured gateway.
	ErrChannelUnavailable = errors.New("channel not configured")
	ErrUnsupportedChannel = errors.New("unsupported channel")
)

// Resolver hands out the WhatsApp client wrapped in a per-tenant send limiter.
type Resolver struct {
	client   *Client
	perSec   rate.Limit
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
}

var _ ports.ChannelResolver = (*Resolver)(nil)

// NewResolver limits each tenant to ratePerSecond outbound messages. Zero or less disables the limit.
func NewResolver(client *Client, ratePerSecond float64) *Resolver {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Resolver{
		client:   client,
		perSec:   limit,
		limiters: make(map[uuid.UUID]*rate.Limiter),
	}
}

func (r *Resolver) Resolve(_ context.Context, tenant domain.Tenant) (ports.ChannelAdapter, error) {
	switch tenant.Channel {
	case ChannelName, "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, tenant.Channel)
	}
	if r.client == nil {
		return nil, ErrChannelUnavailable
	}
	return &limitedSender{next: r.client, limiter: r.limiterFor(tenant.ID)}, nil
}

func (r *Resolver) limiterFor(tenantID uuid.UUID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(r.perSec, 1)
		r.limiters[tenantID] = l
	}
	return l
}

type limitedSender struct {
	next    ports.ChannelAdapter
	limiter *rate.Limiter
}

func (s *limitedSender) SendMessage(ctx context.Context, destination, text string) (ports.DeliveryResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("outbound rate limit: %w", err)
	}
	return s.next.SendMessage(ctx, destination, text)
}
