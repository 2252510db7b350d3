package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNotFoundMapsNoRows(t *testing.T) {
	if !errors.Is(notFound(pgx.ErrNoRows), domain.ErrNotFound) {
		t.Fatal("pgx.ErrNoRows must map to domain.ErrNotFound")
	}
	other := errors.New("boom")
	if notFound(other) != other {
		t.Fatal("other errors must pass through")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatal("expected unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if !isForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("expected foreign key violation")
	}
}

func TestNullTime(t *testing.T) {
	if nullTime(time.Time{}) != nil {
		t.Fatal("zero time must be NULL")
	}
	now := time.Now()
	if got := nullTime(now); got == nil || !got.Equal(now) {
		t.Fatalf("nullTime = %v", got)
	}
}
