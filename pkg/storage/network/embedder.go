package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/logging"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/retry"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig configures an OpenAI-compatible embedding endpoint.
type EmbedderConfig struct {
	BaseURL    string // e.g. "https://api.openai.com/v1"
	Model      string
	APIKey     string // optional for local endpoints
	Dimensions int    // optional; 0 keeps the model default
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
	retry  *retry.Config
	logger *zap.Logger
}

// NewOpenAIEmbedder creates an embedder for cfg.
func NewOpenAIEmbedder(cfg EmbedderConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		dims:   cfg.Dimensions,
		retry:  retry.DefaultConfig(),
		logger: logger.Named("embedder"),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := retry.DoWithResult(ctx, e.retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.model),
			Input:      texts,
			Dimensions: e.dims,
		})
	})
	if err != nil {
		e.logger.Warn("Embedding request failed", zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("create embeddings: malformed vector at index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	e.logger.Debug("Created embeddings", zap.Int("count", len(out)), zap.String("model", e.model))
	return out, nil
}

// HashEmbedder produces storage.HashEmbedding vectors. It is used when no
// embedding endpoint is configured.
type HashEmbedder struct {
	Dimensions int
}

func (h HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = storage.HashEmbedding(t, h.Dimensions)
	}
	return out, nil
}
