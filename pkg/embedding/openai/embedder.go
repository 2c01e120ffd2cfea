// Package openai embeds text through an OpenAI-compatible /v1/embeddings API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	kerrors "github.com/jllopis/reportcard/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "text-embedding-3-large"
)

// Embedder requests embeddings of a fixed dimension.
type Embedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// NewEmbedder creates an embedder. dimensions <= 0 lets the model pick its native size.
func NewEmbedder(baseURL, apiKey, model string, dimensions int) *Embedder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type request struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Model: e.model, Input: text, Dimensions: e.dimensions})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings call: %w", err)
	}
	defer resp.Body.Close()

	var out response
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("openai: status %d", resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg += ": " + out.Error.Message
		}
		return nil, kerrors.FromStatus(msg, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("openai: decode response: %w", decodeErr)
	}
	if len(out.Data) == 0 {
		return nil, errors.New("openai: response carried no embedding")
	}
	return out.Data[0].Embedding, nil
}
