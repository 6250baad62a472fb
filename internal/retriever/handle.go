package retriever

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// handle is one opened index artifact. Searches hold the read lock; close takes the
// write lock, so a swapped-out handle is released only after its in-flight searches end.
type handle struct {
	mu       sync.RWMutex
	closed   bool
	manifest *Manifest
	store    storage.PassageStore
	ranker   ranker
	total    int
	closers  []func() error
}

func (r *Retriever) openHandle(ctx context.Context) (h *handle, err error) {
	dir := r.cfg.Path
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	h = &handle{manifest: m}
	defer func() {
		if err != nil {
			_ = h.close()
		}
	}()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, PassagesFile), storage.ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to open passage store: %w", err)
	}
	h.store = store
	h.closers = append(h.closers, store.Close)

	total, err := store.CountPassages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count passages: %w", err)
	}
	h.total = int(total)
	if m.Passages != h.total {
		r.logger.Warn("manifest passage count differs from store",
			zap.Int("manifest", m.Passages), zap.Int("store", h.total))
	}
	if r.cfg.EmbeddingModel != "" && m.EmbeddingModel != "" && r.cfg.EmbeddingModel != m.EmbeddingModel {
		r.logger.Warn("configured embedding model differs from index manifest, using manifest",
			zap.String("configured", r.cfg.EmbeddingModel), zap.String("manifest", m.EmbeddingModel))
	}

	var vr *vectorRanker
	if m.usesVectors() {
		if vr, err = r.openVectors(dir, m); err != nil {
			return nil, err
		}
		h.closers = append(h.closers, vr.index.Close)
	}
	var kr *keywordRanker
	if m.usesKeywords() {
		idx, err := keyword.OpenBleveIndex(filepath.Join(dir, KeywordDir))
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, idx.Close)
		kr = &keywordRanker{index: idx, opts: r.keywordOpts}
	}

	switch m.IndexType {
	case TypeKeyword:
		h.ranker = kr
	case TypeHybrid:
		h.ranker = &hybridRanker{
			vector:         vr,
			keyword:        kr,
			keywordWeight:  r.cfg.KeywordWeight,
			semanticWeight: r.cfg.SemanticWeight,
		}
	default:
		h.ranker = vr
	}
	return h, nil
}

func (r *Retriever) openVectors(dir string, m *Manifest) (*vectorRanker, error) {
	if r.embedder == nil {
		return nil, errors.New("index needs a query embedder but none is configured")
	}
	if d := r.embedder.Dimensions(); d != m.Dimension {
		return nil, fmt.Errorf("embedder dimension %d does not match index dimension %d", d, m.Dimension)
	}
	vt := m.vectorType()
	idx, err := vector.NewIndex(vt, m.Dimension)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(filepath.Join(dir, vector.FileName(vt))); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}
	return &vectorRanker{embedder: r.embedder, index: idx}, nil
}

func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
