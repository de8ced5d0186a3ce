// Package calls schedules introductory phone calls.
package calls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/breaker"
	"github.com/scrypster/introducer/internal/config"
)

// Request identifies who to call.
type Request struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Email  string `json:"email,omitempty"`
}

// Result is the scheduling outcome. A failed schedule is reported through
// Success=false and Error, not a Go error.
type Result struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Scheduler books a call.
type Scheduler interface {
	Schedule(ctx context.Context, req Request) Result
}

// NewScheduler returns an HTTPScheduler when a scheduler URL is configured
// and a NopScheduler otherwise.
func NewScheduler(cfg config.CallsConfig, logger *zap.Logger) Scheduler {
	if strings.TrimSpace(cfg.SchedulerURL) == "" {
		return NopScheduler{}
	}
	return NewHTTPScheduler(cfg, logger)
}

// NopScheduler reports every request as unscheduled.
type NopScheduler struct{}

// Schedule returns an unsuccessful result.
func (NopScheduler) Schedule(context.Context, Request) Result {
	return Result{Error: "call scheduling is not configured"}
}

// HTTPScheduler posts scheduling requests to a calling service.
type HTTPScheduler struct {
	url            string
	apiKey         string
	client         *http.Client
	circuitBreaker *breaker.CircuitBreaker
	logger         *zap.Logger
}

// NewHTTPScheduler creates a scheduler for cfg.SchedulerURL.
func NewHTTPScheduler(cfg config.CallsConfig, logger *zap.Logger) *HTTPScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPScheduler{
		url:            cfg.SchedulerURL,
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: 30 * time.Second},
		circuitBreaker: breaker.New("calls", logger),
		logger:         logger,
	}
}

// Schedule books a call for req.
func (s *HTTPScheduler) Schedule(ctx context.Context, req Request) Result {
	res, err := breaker.Do(ctx, s.circuitBreaker, func() (Result, error) {
		return s.schedule(ctx, req)
	})
	if err != nil {
		s.logger.Warn("call scheduling failed", zap.Error(err))
		return Result{Error: err.Error()}
	}
	return res
}

func (s *HTTPScheduler) schedule(ctx context.Context, r Request) (Result, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("scheduler returned status %d: %s", resp.StatusCode, string(b))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
