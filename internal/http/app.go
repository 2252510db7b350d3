// Package http defines what cmd/api and the worker ops server hand to the router:
// the App dependencies and the Module contract each feature implements.
package http

import (
	"context"

	"chatflow_backend/platform/config"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterConfig is the slice of config the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs /api/health; the pgx pool satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in main. Health and Metrics are optional.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Metrics prometheus.Gatherer
	Modules []Module
}

// Module mounts one feature's routes. Conversations, the SSE stream and the
// breaker admin are the current implementations.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups a Module may mount on.
type RouterContext struct {
	V1        *gin.RouterGroup // public /api/v1; webhooks only
	Protected *gin.RouterGroup // agent token required
	Admin     *gin.RouterGroup // agent token with the admin role

	// WebhookRateLimiter is applied by modules that expose gateway callbacks.
	WebhookRateLimiter *httpkit.IPRateLimiter
	WebhookSecret      string
}
