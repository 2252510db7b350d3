package whatsapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

func newGateway(t *testing.T, status int, got *sendRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send/message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))
		if r.Header.Get("Authorization") != want {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Device-Id") != "device-1" {
			t.Errorf("device = %q", r.Header.Get("X-Device-Id"))
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"message_id":"3EB0ABC","status":"delivered"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	cfg := &config.Config{WhatsAppURL: url + "/", WhatsAppKey: "user:pass", WhatsAppDeviceID: "device-1", PhoneDefaultRegion: "BR"}
	return NewClient(cfg, cfg, logger.Nop())
}

func TestSendMessage(t *testing.T) {
	var got sendRequest
	srv := newGateway(t, http.StatusOK, &got)

	res, err := newTestClient(srv.URL).SendMessage(context.Background(), "(11) 98888-7777", "Olá Ana!")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.Phone != "5511988887777" || got.Message != "Olá Ana!" {
		t.Fatalf("request = %+v", got)
	}
	if res.ExternalID != "3EB0ABC" || res.Status != "delivered" {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendMessageGatewayError(t *testing.T) {
	srv := newGateway(t, http.StatusBadGateway, nil)

	if _, err := newTestClient(srv.URL).SendMessage(context.Background(), "+5511988887777", "oi"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestSendMessageInvalidDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).SendMessage(context.Background(), "not a phone", "oi"); err == nil {
		t.Fatal("expected error for invalid destination")
	}
}

func TestNewClientWithoutURL(t *testing.T) {
	cfg := &config.Config{}
	if c := NewClient(cfg, cfg, logger.Nop()); c != nil {
		t.Fatal("client must be nil without a gateway url")
	}
}

func TestResolver(t *testing.T) {
	srv := newGateway(t, http.StatusOK, nil)
	r := NewResolver(newTestClient(srv.URL), 0)

	adapter, err := r.Resolve(context.Background(), domain.Tenant{ID: uuid.New(), Channel: ChannelName})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := adapter.SendMessage(context.Background(), "+5511988887777", "oi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if _, err := r.Resolve(context.Background(), domain.Tenant{ID: uuid.New(), Channel: "telegram"}); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("telegram err = %v", err)
	}
	if _, err := NewResolver(nil, 1).Resolve(context.Background(), domain.Tenant{Channel: ChannelName}); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("nil client err = %v", err)
	}
}

func TestResolverLimitsPerTenant(t *testing.T) {
	srv := newGateway(t, http.StatusOK, nil)
	r := NewResolver(newTestClient(srv.URL), 1)
	tenant := domain.Tenant{ID: uuid.New(), Channel: ChannelName}

	adapter, _ := r.Resolve(context.Background(), tenant)
	if _, err := adapter.SendMessage(context.Background(), "+5511988887777", "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	again, _ := r.Resolve(ctx, tenant)
	if _, err := again.SendMessage(ctx, "+5511988887777", "second"); err == nil {
		t.Fatal("second send within the same second must wait past the deadline")
	}

	other, _ := r.Resolve(context.Background(), domain.Tenant{ID: uuid.New(), Channel: ChannelName})
	if _, err := other.SendMessage(context.Background(), "+5511988887777", "other tenant"); err != nil {
		t.Fatalf("other tenant send: %v", err)
	}
}
