package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/breaker"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	BaseURL string        // default: http://localhost:11434
	Model   string        // default: nomic-embed-text
	Timeout time.Duration // default: 30s
}

// OllamaClient implements Backend against a local Ollama server.
type OllamaClient struct {
	cfg            OllamaConfig
	client         *http.Client
	circuitBreaker *breaker.CircuitBreaker
}

// embedRequest is the request body for the /api/embed endpoint.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the /api/embed response. We always send one input, so
// only the first row matters.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama embedding client.
func NewOllamaClient(cfg OllamaConfig, logger *zap.Logger) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OllamaClient{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: breaker.New("ollama-embeddings", logger),
	}
}

// Embed generates an embedding for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := breaker.Do(ctx, c.circuitBreaker, func() ([]float64, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return vec, nil
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float64, error) {
	jsonData, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned empty embedding vector")
	}
	return respData.Embeddings[0], nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.cfg.Model
}

var _ Backend = (*OllamaClient)(nil)
