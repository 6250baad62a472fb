// Package retriever maps a query to the most relevant passages of a precomputed index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrClosed is returned by Reload after Close.
var ErrClosed = errors.New("retriever closed")

// OutcomeKind classifies a lookup.
type OutcomeKind int

const (
	// Found means at least one passage matched.
	Found OutcomeKind = iota
	// NoMatches means the index was searched and nothing matched.
	NoMatches
	// StoreUnavailable means the index could not be loaded or queried.
	StoreUnavailable
)

func (k OutcomeKind) String() string {
	switch k {
	case Found:
		return "found"
	case NoMatches:
		return "no_matches"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the tagged result of Lookup. Reason is set for StoreUnavailable.
type Outcome struct {
	Kind     OutcomeKind
	Passages models.Bundle
	Reason   string
}

// Retriever searches a precomputed passage index. It is safe for concurrent use.
type Retriever struct {
	cfg         config.IndexConfig
	logger      *zap.Logger
	embedder    embedding.Embedder
	keywordOpts *keyword.SearchOptions
	maxK        int
	minScore    *float64

	// mu serializes Load, Reload and Close.
	mu       sync.Mutex
	current  atomic.Pointer[handle]
	attempts atomic.Int32
	closed   bool
	lastErr  atomic.Pointer[string]
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithEmbedder sets the query embedder used by vector and hybrid indexes.
// The retriever does not close it.
func WithEmbedder(e embedding.Embedder) Option {
	return func(r *Retriever) { r.embedder = e }
}

// WithKeywordOptions sets the BM25 search options for keyword and hybrid indexes.
func WithKeywordOptions(opts *keyword.SearchOptions) Option {
	return func(r *Retriever) { r.keywordOpts = opts }
}

// WithMaxK caps k for every search. Values <= 0 disable the cap.
func WithMaxK(n int) Option {
	return func(r *Retriever) { r.maxK = n }
}

// WithMinScore drops candidates scoring below s. Vector indexes rank every passage,
// so without a floor a vector search only comes back empty on an empty index.
func WithMinScore(s float64) Option {
	return func(r *Retriever) { r.minScore = &s }
}

// New constructs a Retriever for the index at cfg.Path. It does not open the index.
func New(cfg config.IndexConfig, opts ...Option) *Retriever {
	r := &Retriever{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Load opens the index once. It returns true when an index is loaded.
// Failures are logged and available from LastError.
func (r *Retriever) Load(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.Load() != nil {
		return true
	}
	if r.closed {
		return false
	}
	r.attempts.Add(1)
	h, err := r.openHandle(ctx)
	if err != nil {
		r.setErr(err)
		r.logger.Warn("failed to load index", zap.String("path", r.cfg.Path), zap.Error(err))
		return false
	}
	r.clearErr()
	r.current.Store(h)
	r.logger.Info("index loaded",
		zap.String("path", r.cfg.Path),
		zap.String("type", h.manifest.IndexType),
		zap.Int("passages", h.total))
	return true
}

// Reload opens the index again and swaps it in. On failure the previous index stays active.
// Searches in flight finish on the handle they started with.
func (r *Retriever) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.attempts.Add(1)
	h, err := r.openHandle(ctx)
	if err != nil {
		r.setErr(err)
		r.logger.Warn("index reload failed", zap.String("path", r.cfg.Path), zap.Error(err))
		return fmt.Errorf("failed to reload index: %w", err)
	}
	r.clearErr()
	old := r.current.Swap(h)
	if old != nil {
		if err := old.close(); err != nil {
			r.logger.Warn("failed to close previous index", zap.Error(err))
		}
	}
	r.logger.Info("index reloaded", zap.String("path", r.cfg.Path), zap.Int("passages", h.total))
	return nil
}

// Search returns up to k passages, most relevant first. It returns an empty result when
// nothing matches and also when the index is unavailable; use Lookup to tell them apart.
// k < 1 yields an empty result.
func (r *Retriever) Search(ctx context.Context, query string, k int) []models.Passage {
	return r.Lookup(ctx, query, k).Passages
}

// Lookup is Search with a tagged outcome.
func (r *Retriever) Lookup(ctx context.Context, query string, k int) Outcome {
	if k < 1 || strings.TrimSpace(query) == "" {
		return Outcome{Kind: NoMatches}
	}
	if r.maxK > 0 && k > r.maxK {
		k = r.maxK
	}
	h := r.acquire(ctx)
	if h == nil {
		return Outcome{Kind: StoreUnavailable, Reason: r.LastError()}
	}
	defer h.mu.RUnlock()

	passages, err := h.search(ctx, query, k, r.minScore)
	if err != nil {
		r.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
		return Outcome{Kind: StoreUnavailable, Reason: err.Error()}
	}
	if len(passages) == 0 {
		return Outcome{Kind: NoMatches}
	}
	return Outcome{Kind: Found, Passages: passages}
}

// acquire returns the current handle read-locked, loading the index on first use.
// It returns nil when no index is available.
func (r *Retriever) acquire(ctx context.Context) *handle {
	if r.current.Load() == nil && r.attempts.Load() == 0 {
		r.Load(ctx)
	}
	for {
		h := r.current.Load()
		if h == nil {
			return nil
		}
		h.mu.RLock()
		if !h.closed {
			return h
		}
		// swapped and closed between Load and RLock; pick up the new one
		h.mu.RUnlock()
	}
}

func (h *handle) search(ctx context.Context, query string, k int, minScore *float64) (models.Bundle, error) {
	cands, err := h.ranker.rank(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if minScore != nil {
		kept := cands[:0]
		for _, c := range cands {
			if c.Score >= *minScore {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	if len(cands) == 0 {
		return nil, nil
	}
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	stored, err := h.store.GetPassages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch passages: %w", err)
	}

	type ranked struct {
		p  *storage.StoredPassage
		sc float64
	}
	rs := make([]ranked, 0, len(cands))
	for _, c := range cands {
		p, ok := stored[c.ID]
		if !ok || !p.Valid() {
			continue
		}
		rs = append(rs, ranked{p: p, sc: c.Score})
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].sc != rs[j].sc {
			return rs[i].sc > rs[j].sc
		}
		return rs[i].p.Position < rs[j].p.Position
	})
	if len(rs) > k {
		rs = rs[:k]
	}
	out := make(models.Bundle, len(rs))
	for i, x := range rs {
		out[i] = x.p.Passage
		out[i].Score = x.sc
	}
	return out, nil
}

// Stats returns a snapshot of the loaded index. Loaded is false when no index was ever opened.
func (r *Retriever) Stats() models.IndexStats {
	h := r.current.Load()
	if h == nil {
		return models.IndexStats{Loaded: false, TotalChunks: 0, Path: r.cfg.Path, Error: r.LastError()}
	}
	model := h.manifest.EmbeddingModel
	if model == "" {
		model = r.cfg.EmbeddingModel
	}
	stats := models.IndexStats{
		Loaded:         true,
		TotalChunks:    h.total,
		EmbeddingModel: model,
		Dimension:      h.manifest.Dimension,
		IndexType:      h.manifest.IndexType,
		Path:           r.cfg.Path,
	}
	if n, err := storage.DiskUsageBytes(r.cfg.Path); err == nil {
		stats.DiskUsageBytes = n
	}
	return stats
}

// LastError returns the most recent load failure, or "" after a successful load.
func (r *Retriever) LastError() string {
	if p := r.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Path returns the index directory.
func (r *Retriever) Path() string { return r.cfg.Path }

func (r *Retriever) setErr(err error) {
	s := err.Error()
	r.lastErr.Store(&s)
}

func (r *Retriever) clearErr() { r.lastErr.Store(nil) }

// Close releases the index. Searches after Close return StoreUnavailable.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.setErr(ErrClosed)
	if h := r.current.Swap(nil); h != nil {
		return h.close()
	}
	return nil
}
