// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int
}

// JWTConfig provides JWT validation settings for agent middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookRatePerMinute() int
	GetWebhookSecret() string
}

// SchedulerConfig provides settings for the asynq job queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WhatsAppConfig provides settings for the GOWA WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetOutboundRatePerSecond() float64
}

// AIConfig provides settings for the AI text-generation vendor.
type AIConfig interface {
	GetMoonshotAPIKey() string
	GetAIModel() string
	GetAIBaseURL() string
	GetAITimeout() time.Duration
}

// ResilienceConfig provides retry and circuit breaker settings for the AI dependency.
type ResilienceConfig interface {
	GetAIMaxRetries() int
	GetAIRetryBaseDelay() time.Duration
	GetAIRetryMaxDelay() time.Duration
	GetAIBreakerThreshold() int
	GetAIBreakerWindow() time.Duration
	GetAIBreakerReset() time.Duration
}

// SMTPConfig provides settings for agent notification emails.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsSMTPEnabled() bool
	GetAppBaseURL() string
}

// LockConfig provides settings for the per-conversation advisory lock.
type LockConfig interface {
	GetConversationLockTTL() time.Duration
}

// PhoneConfig provides phone number normalisation settings.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	DatabaseMaxConns     int
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	WebhookRatePerMinute int
	WebhookSecret        string
	AppBaseURL           string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	WhatsAppURL           string
	WhatsAppKey           string
	WhatsAppDeviceID      string
	OutboundRatePerSecond float64

	MoonshotAPIKey string
	AIModel        string
	AIBaseURL      string
	AITimeout      time.Duration

	AIMaxRetries       int
	AIRetryBaseDelay   time.Duration
	AIRetryMaxDelay    time.Duration
	AIBreakerThreshold int
	AIBreakerWindow    time.Duration
	AIBreakerReset     time.Duration

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	ConversationLockTTL time.Duration
	PhoneDefaultRegion  string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string  { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int { return c.DatabaseMaxConns }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string            { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool          { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string       { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool        { return c.CORSAllowCreds }
func (c *Config) GetWebhookRatePerMinute() int   { return c.WebhookRatePerMinute }
func (c *Config) GetWebhookSecret() string       { return c.WebhookSecret }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string              { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string              { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string         { return c.WhatsAppDeviceID }
func (c *Config) GetOutboundRatePerSecond() float64   { return c.OutboundRatePerSecond }

// AIConfig implementation
func (c *Config) GetMoonshotAPIKey() string    { return c.MoonshotAPIKey }
func (c *Config) GetAIModel() string           { return c.AIModel }
func (c *Config) GetAIBaseURL() string         { return c.AIBaseURL }
func (c *Config) GetAITimeout() time.Duration  { return c.AITimeout }

// ResilienceConfig implementation
func (c *Config) GetAIMaxRetries() int                { return c.AIMaxRetries }
func (c *Config) GetAIRetryBaseDelay() time.Duration  { return c.AIRetryBaseDelay }
func (c *Config) GetAIRetryMaxDelay() time.Duration   { return c.AIRetryMaxDelay }
func (c *Config) GetAIBreakerThreshold() int          { return c.AIBreakerThreshold }
func (c *Config) GetAIBreakerWindow() time.Duration   { return c.AIBreakerWindow }
func (c *Config) GetAIBreakerReset() time.Duration    { return c.AIBreakerReset }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsSMTPEnabled() bool         { return c.SMTPHost != "" && c.EmailFromAddress != "" }
func (c *Config) GetAppBaseURL() string       { return c.AppBaseURL }

// LockConfig implementation
func (c *Config) GetConversationLockTTL() time.Duration { return c.ConversationLockTTL }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:      mustInt(getEnv("DB_MAX_CONNS", "25")),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookRatePerMinute:  mustInt(getEnv("WEBHOOK_RATE_PER_MINUTE", "600")),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		AppBaseURL:            getEnv("APP_BASE_URL", "http://localhost:4200"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		WhatsAppURL:           getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:           getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:      getEnv("WHATSAPP_DEVICE_ID", ""),
		OutboundRatePerSecond: mustFloat(getEnv("OUTBOUND_RATE_PER_SECOND", "5")),
		MoonshotAPIKey:        getEnv("MOONSHOT_API_KEY", ""),
		AIModel:               getEnv("AI_MODEL", "kimi-k2.5"),
		AIBaseURL:             getEnv("AI_BASE_URL", ""),
		AITimeout:             mustDuration(getEnv("AI_TIMEOUT", "30s")),
		AIMaxRetries:          mustInt(getEnv("AI_MAX_RETRIES", "2")),
		AIRetryBaseDelay:      mustDuration(getEnv("AI_RETRY_BASE_DELAY", "500ms")),
		AIRetryMaxDelay:       mustDuration(getEnv("AI_RETRY_MAX_DELAY", "5s")),
		AIBreakerThreshold:    mustInt(getEnv("AI_BREAKER_THRESHOLD", "5")),
		AIBreakerWindow:       mustDuration(getEnv("AI_BREAKER_WINDOW", "60s")),
		AIBreakerReset:        mustDuration(getEnv("AI_BREAKER_RESET", "30s")),
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Chatflow"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		ConversationLockTTL:   mustDuration(getEnv("CONVERSATION_LOCK_TTL", "2m")),
		PhoneDefaultRegion:    getEnv("PHONE_DEFAULT_REGION", "BR"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DatabaseMaxConns < 2 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 2")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if c.AIMaxRetries < 0 {
		return fmt.Errorf("AI_MAX_RETRIES must be >= 0")
	}
	if c.AIBreakerThreshold < 1 {
		return fmt.Errorf("AI_BREAKER_THRESHOLD must be >= 1")
	}
	if c.AIBreakerWindow <= 0 || c.AIBreakerReset <= 0 {
		return fmt.Errorf("AI_BREAKER_WINDOW and AI_BREAKER_RESET must be positive durations")
	}
	if c.AIRetryMaxDelay < c.AIRetryBaseDelay {
		return fmt.Errorf("AI_RETRY_MAX_DELAY must not be smaller than AI_RETRY_BASE_DELAY")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
