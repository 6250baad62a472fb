// Package embedding turns query text into vectors comparable with the passage index.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Name identifies the implementation ("onnx" or "hash").
	Name() string
	Close() error
}

// Provider names accepted by New.
const (
	ProviderONNX = "onnx"
	ProviderHash = "hash"
)

// Options configures an embedder.
type Options struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
	CacheSize  int
}

// New returns the embedder for provider. When the ONNX runtime or model cannot be
// loaded, it logs a warning and returns a HashEmbedder of the same dimension.
func New(provider string, opts Options, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	switch provider {
	case ProviderHash:
		return NewHashEmbedder(opts.Dimensions), nil
	case ProviderONNX, "":
		e, err := NewONNXEmbedder(opts)
		if err != nil {
			logger.Warn("onnx embedder unavailable, using hash embedder",
				zap.String("model_path", opts.ModelPath),
				zap.Error(err))
			return NewHashEmbedder(opts.Dimensions), nil
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: onnx, hash)", provider)
	}
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}
