package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindUnwrapsChain(t *testing.T) {
	cause := errors.New("no rows")
	err := fmt.Errorf("load conversation: %w", Wrap(KindNotFound, "conversation not found", cause))
	if got := GetKind(err); got != KindNotFound {
		t.Fatalf("GetKind = %v, want KindNotFound", got)
	}
	if !Is(err, KindNotFound) {
		t.Fatalf("expected Is to match wrapped not-found error")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost in chain")
	}
	if GetKind(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected plain errors to be KindUnknown")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Forbidden("x"), http.StatusForbidden},
		{Conflict("x"), http.StatusConflict},
		{Internal("x"), http.StatusInternalServerError},
		{RateLimited("x"), http.StatusTooManyRequests},
		{New(KindUnknown, "x"), http.StatusBadRequest},
		{Wrap(KindUnavailable, "queue down", errors.New("dial tcp")), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Errorf("%s: HTTPStatus = %d, want %d", tc.err.Message, got, tc.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindUnavailable, "message queue unavailable", errors.New("redis down"))
	if err.Error() != "message queue unavailable: redis down" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if err.Message != "message queue unavailable" {
		t.Fatalf("Message = %q", err.Message)
	}

	withDetails := Validation("validation failed").WithDetails("Phone is required")
	if withDetails.Details != "Phone is required" {
		t.Fatalf("Details = %v", withDetails.Details)
	}
}
