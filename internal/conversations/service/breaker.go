package service

import (
	"chatflow_backend/internal/conversations/transport"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/logger"
)

// Breaker is the operator view of the AI circuit breaker.
type Breaker interface {
	Name() string
	State() circuitbreaker.State
	Failures() int
	Reset()
}

// BreakerAdmin exposes the breaker of the running process to operators.
type BreakerAdmin struct {
	breaker Breaker
	log     *logger.Logger
}

func NewBreakerAdmin(breaker Breaker, log *logger.Logger) *BreakerAdmin {
	return &BreakerAdmin{breaker: breaker, log: log}
}

func (a *BreakerAdmin) Status() transport.BreakerStatusResponse {
	return transport.BreakerStatusResponse{
		Name:     a.breaker.Name(),
		State:    string(a.breaker.State()),
		Failures: a.breaker.Failures(),
	}
}

// Reset forces the breaker closed and clears its failure window.
func (a *BreakerAdmin) Reset() transport.BreakerStatusResponse {
	before := a.breaker.State()
	a.breaker.Reset()
	a.log.Warn("circuitbreaker: manual reset", "name", a.breaker.Name(), "previousState", before)
	return a.Status()
}
