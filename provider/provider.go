package provider

import (
	"context"
	"fmt"
	"log"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/models"
	openai_provider "github.com/roundtablehq/roundtable/provider/openai"
)

// ErrRateLimited is surfaced when the upstream API rejects a call with 429
// after retries are spent. Pipelines turn it into an error-status message
// rather than failing the whole run.
var ErrRateLimited = openai_provider.ErrRateLimited

// Provider is the completion + embedding surface the engine consumes.
type Provider interface {
	// Complete runs one chat completion. The system prompt may be empty.
	Complete(ctx context.Context, model string, system string, turns []models.Turn) (string, error)
	// CompleteWithTokens additionally reports prompt/completion token usage.
	CompleteWithTokens(ctx context.Context, model string, system string, turns []models.Turn) (string, int64, int64, error)
	// Embed embeds each input text with the configured embedding model.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// CountTokens measures text with the provider's own tokenizer; context
	// assembly depends on this matching what the model will see.
	CountTokens(text string) int
	// CalculateCost converts token usage into dollars for the cost tracker.
	CalculateCost(model string, inputTokens, outputTokens int64) float64
}

// NewProvider builds the configured provider implementation.
func NewProvider(cfg config.LLMConfig, logger *log.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return openai_provider.New(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
