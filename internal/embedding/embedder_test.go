package embedding

import (
	"context"
	"testing"

	"github.com/hyperjump/kotae/internal/vector"
	"go.uber.org/zap"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()
	a, err := e.Embed(ctx, "hypertension treatment")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "hypertension treatment")
	if len(a) != 16 || e.Dimensions() != 16 {
		t.Fatalf("dimension = %d", len(a))
	}
	if vector.InnerProduct(a, b) < 0.9999 {
		t.Error("same text should give the same vector")
	}
	if n := vector.L2Norm(a); n < 0.999 || n > 1.001 {
		t.Errorf("embedding not normalized: %f", n)
	}
	batch, err := e.EmbedBatch(ctx, []string{"x", "y"})
	if err != nil || len(batch) != 2 {
		t.Fatalf("EmbedBatch: %v, %d", err, len(batch))
	}
	if NewHashEmbedder(0).Dimensions() != 384 {
		t.Error("default dimension should be 384")
	}
}

func TestNew(t *testing.T) {
	opts := Options{ModelPath: "/nonexistent/model.onnx", Dimensions: 8, MaxTokens: 16}

	e, err := New(ProviderHash, opts, nil)
	if err != nil || e.Name() != ProviderHash {
		t.Fatalf("hash provider: %v %v", e, err)
	}

	e, err = New(ProviderONNX, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("onnx provider should fall back, got %v", err)
	}
	if e.Name() != ProviderHash || e.Dimensions() != 8 {
		t.Errorf("fallback embedder: name=%s dims=%d", e.Name(), e.Dimensions())
	}

	if _, err := New("word2vec", opts, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
