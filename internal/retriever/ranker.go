package retriever

import (
	"context"
	"fmt"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// ranker maps a query to scored passage IDs. Candidates may exceed k; the retriever
// orders them by score then passage position and cuts to k.
type ranker interface {
	rank(ctx context.Context, query string, k int) ([]candidate, error)
}

type vectorRanker struct {
	embedder embedding.Embedder
	index    vector.Index
}

func (r *vectorRanker) rank(ctx context.Context, query string, k int) ([]candidate, error) {
	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, qvec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]candidate, len(hits))
	for i, h := range hits {
		out[i] = candidate{ID: h.ID, Score: h.Score, SemanticScore: h.Score}
	}
	return out, nil
}

type keywordRanker struct {
	index keyword.Index
	opts  *keyword.SearchOptions
}

func (r *keywordRanker) rank(ctx context.Context, query string, k int) ([]candidate, error) {
	results, err := r.index.Search(ctx, query, k, r.opts)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(results))
	for i, res := range results {
		out[i] = candidate{ID: res.ID, Score: res.Score, KeywordScore: res.Score}
	}
	return out, nil
}

type hybridRanker struct {
	vector         *vectorRanker
	keyword        *keywordRanker
	keywordWeight  float64
	semanticWeight float64
}

func (r *hybridRanker) rank(ctx context.Context, query string, k int) ([]candidate, error) {
	// widen both sides so a passage ranked just outside one list can still win on the fused score
	wide := k * 3
	qvec, err := r.vector.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := r.vector.index.Search(ctx, qvec, wide)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	kw, err := r.keyword.index.Search(ctx, query, wide, r.keyword.opts)
	if err != nil {
		return nil, err
	}
	return fuse(normalizeKeywordScores(kw), semanticScores(hits), r.keywordWeight, r.semanticWeight), nil
}
