package embedding

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/config"
)

// NewBackend creates the backend selected by cfg.Provider.
// It returns (nil, nil) when embeddings are disabled or the selected
// provider lacks credentials; the Generator then reports a
// ConfigurationError on use instead of failing at startup.
func NewBackend(cfg config.EmbeddingConfig, logger *zap.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
		}, logger), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
