// Package embedding turns text into fixed-length vectors for the record store.
package embedding

import (
	"context"
	"fmt"

	"github.com/jllopis/reportcard/pkg/config"
	"github.com/jllopis/reportcard/pkg/embedding/ollama"
	"github.com/jllopis/reportcard/pkg/embedding/openai"
	"github.com/jllopis/reportcard/pkg/errors"
	"github.com/jllopis/reportcard/pkg/resilience"
)

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// CheckDimension fails with CodeInvalidInput when vec does not have dim entries.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("embedding has %d dimensions, collection expects %d", len(vec), dim), nil).
			WithContext("got", len(vec)).
			WithContext("want", dim)
	}
	return nil
}

// New builds the embedder selected by cfg.Provider, retried up to
// cfg.MaxAttempts times. Provider "none" (or "") returns nil: records are then
// only ever stored with zero vectors.
func New(cfg config.EmbedderConfig, dimension int) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		e = ollama.NewEmbedder(cfg.BaseURL, cfg.Model)
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New(errors.CodeInvalidInput, "embedder.api_key is required for openai", nil)
		}
		e = openai.NewEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, dimension)
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown embedder provider %q", cfg.Provider), nil)
	}
	if cfg.MaxAttempts > 1 {
		e = WithRetry(e, resilience.DefaultRetryConfig().WithMaxAttempts(cfg.MaxAttempts))
	}
	return e, nil
}

// WithRetry retries failed Embed calls that rc considers recoverable.
func WithRetry(e Embedder, rc resilience.RetryConfig) Embedder {
	return Func(func(ctx context.Context, text string) ([]float32, error) {
		return resilience.Value(ctx, rc, func() ([]float32, error) {
			return e.Embed(ctx, text)
		})
	})
}
