package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chatflow")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GetAIMaxRetries() != 2 {
		t.Errorf("AIMaxRetries = %d, want 2", cfg.GetAIMaxRetries())
	}
	if cfg.GetAIBreakerWindow() != 60*time.Second {
		t.Errorf("AIBreakerWindow = %s, want 60s", cfg.GetAIBreakerWindow())
	}
	if cfg.GetConversationLockTTL() != 2*time.Minute {
		t.Errorf("ConversationLockTTL = %s, want 2m", cfg.GetConversationLockTTL())
	}
	if cfg.GetDatabaseMaxConns() != 25 {
		t.Errorf("DatabaseMaxConns = %d, want 25", cfg.GetDatabaseMaxConns())
	}
	if cfg.IsSMTPEnabled() {
		t.Errorf("expected SMTP to be disabled without SMTP_HOST")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestLoadRejectsInvalidBreakerThreshold(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chatflow")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("AI_BREAKER_THRESHOLD", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero breaker threshold")
	}
}

func TestLoadRejectsTinyPool(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/chatflow")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("DB_MAX_CONNS", "1")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for DB_MAX_CONNS below 2")
	}
}
