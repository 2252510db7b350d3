// Package aiservice implements the AI collaborator of the message pipeline on top
// of an ADK model (Moonshot Kimi in production).
package aiservice

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/platform/ai/moonshot"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/config"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("ai returned an empty response")

// Service calls the model once per pipeline attempt.
type Service struct {
	llm         model.LLM
	temperature float32
	maxTokens   int32
	now         func() time.Time
}

var _ ports.AIService = (*Service)(nil)

// New wraps an ADK model.
func New(llm model.LLM) *Service {
	return &Service{
		llm:         llm,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		now:         time.Now,
	}
}

// NewKimi builds the service over the Moonshot model described by cfg.
func NewKimi(cfg config.AIConfig) *Service {
	return New(moonshot.NewModel(moonshot.Config{
		APIKey:  cfg.GetMoonshotAPIKey(),
		BaseURL: cfg.GetAIBaseURL(),
		Model:   cfg.GetAIModel(),
		Timeout: cfg.GetAITimeout(),
	}))
}

func (s *Service) Call(ctx context.Context, systemPrompt, userPrompt string) (ports.AIResponse, error) {
	temperature := s.temperature
	req := &model.LLMRequest{
		Model: s.llm.Name(),
		Contents: []*genai.Content{
			genai.NewContentFromText(userPrompt, genai.RoleUser),
		},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       &temperature,
			MaxOutputTokens:   s.maxTokens,
		},
	}

	started := s.now()
	var out *model.LLMResponse
	for resp, err := range s.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return ports.AIResponse{}, err
		}
		out = resp
	}
	elapsed := s.now().Sub(started)

	text := responseText(out)
	if text == "" {
		return ports.AIResponse{}, ErrEmptyResponse
	}

	result := ports.AIResponse{
		RawText:      text,
		ResponseTime: elapsed,
		Model:        s.llm.Name(),
	}
	if out.UsageMetadata != nil {
		result.TokensUsed = int(out.UsageMetadata.TotalTokenCount)
	}
	if name, ok := out.CustomMetadata["model"].(string); ok && name != "" {
		result.Model = name
	}
	return result, nil
}

func responseText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Content.Parts {
		if part == nil {
			continue
		}
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

// IsRetryable reports whether a failed AI call is worth another attempt.
// Cancellation, an open breaker and client errors other than 408 and 429 are final.
func IsRetryable(err error, _ int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}

	var apiErr *moonshot.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError:
			return false
		}
	}
	return true
}
