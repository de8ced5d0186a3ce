// Package messaging delivers outbound conversational messages.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/breaker"
	"github.com/scrypster/introducer/internal/config"
)

// Message is a single outbound message. MediaURL is optional.
type Message struct {
	To       string `json:"to"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

// Sender delivers messages to a conversational identity.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender returns a WebhookSender when a webhook is configured and a
// LogSender otherwise.
func NewSender(cfg config.MessagingConfig, logger *zap.Logger) Sender {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return NewLogSender(logger)
	}
	return NewWebhookSender(cfg, logger)
}

// WebhookSender posts messages as JSON to a transport gateway.
type WebhookSender struct {
	url            string
	token          string
	client         *http.Client
	circuitBreaker *breaker.CircuitBreaker
}

// NewWebhookSender creates a sender for cfg.WebhookURL.
func NewWebhookSender(cfg config.MessagingConfig, logger *zap.Logger) *WebhookSender {
	return &WebhookSender{
		url:            cfg.WebhookURL,
		token:          cfg.AuthToken,
		client:         &http.Client{Timeout: 15 * time.Second},
		circuitBreaker: breaker.New("messaging", logger),
	}
}

// Send posts msg to the gateway.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("messaging: recipient is required")
	}
	_, err := s.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, s.send(ctx, msg)
	})
	return err
}

func (s *WebhookSender) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("messaging: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("messaging: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: failed to send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("messaging: gateway returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("outbound message (no transport configured)",
		zap.String("to", msg.To), zap.String("text", msg.Text), zap.String("media_url", msg.MediaURL))
	return nil
}
