// Package whatsapp delivers outbound conversation messages through a GoWA gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/phone"
)

const ChannelName = "whatsapp"

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	region   string
	http     *http.Client
	log      *logger.Logger
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
		Status    string `json:"status"`
	} `json:"results"`
}

// NewClient returns nil when no gateway URL is configured.
func NewClient(cfg config.WhatsAppConfig, phoneCfg config.PhoneConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		region:   phoneCfg.GetPhoneDefaultRegion(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// SendMessage posts text to the lead's number. The gateway expects digits without the plus sign.
func (c *Client) SendMessage(ctx context.Context, destination, text string) (ports.DeliveryResult, error) {
	if c == nil {
		return ports.DeliveryResult{}, ErrChannelUnavailable
	}

	normalized, err := phone.ParseE164(destination, c.region)
	if err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("whatsapp destination %q: %w", destination, err)
	}
	digits := strings.TrimPrefix(normalized, "+")

	body, err := json.Marshal(sendRequest{Phone: digits, Message: text})
	if err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return ports.DeliveryResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.DeliveryResult{}, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.DeliveryResult{}, fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return ports.DeliveryResult{}, fmt.Errorf("decode whatsapp response: %w", err)
	}

	status := decoded.Results.Status
	if status == "" {
		status = "sent"
	}
	c.log.Info("whatsapp: message sent", "phone", digits, "messageId", decoded.Results.MessageID)
	return ports.DeliveryResult{ExternalID: decoded.Results.MessageID, Status: status}, nil
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
