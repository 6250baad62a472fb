package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// History is the ordered, append-only log of answered questions. It is display-only:
// nothing in the pipeline reads it back into a prompt.
type History interface {
	Append(ctx context.Context, rec *models.AnswerRecord) error
	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]*models.AnswerRecord, error)
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryHistory keeps records in process memory. Records are copied on the way in and out.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []*models.AnswerRecord
}

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(_ context.Context, rec *models.AnswerRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec.Clone())
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) List(_ context.Context, limit int) ([]*models.AnswerRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.AnswerRecord, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.records[i].Clone())
	}
	return out, nil
}

func (h *MemoryHistory) Clear(context.Context) error {
	h.mu.Lock()
	h.records = nil
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) Len(context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records), nil
}

func (h *MemoryHistory) Close() error { return nil }

// StoreHistory persists records through a storage.HistoryStore.
type StoreHistory struct {
	store storage.HistoryStore
}

// NewStoreHistory wraps store. Closing the history closes the store.
func NewStoreHistory(store storage.HistoryStore) *StoreHistory {
	return &StoreHistory{store: store}
}

func (h *StoreHistory) Append(ctx context.Context, rec *models.AnswerRecord) error {
	return h.store.AppendAnswer(ctx, rec)
}

func (h *StoreHistory) List(ctx context.Context, limit int) ([]*models.AnswerRecord, error) {
	return h.store.ListAnswers(ctx, limit)
}

func (h *StoreHistory) Clear(ctx context.Context) error {
	return h.store.ClearAnswers(ctx)
}

func (h *StoreHistory) Len(ctx context.Context) (int, error) {
	n, err := h.store.CountAnswers(ctx)
	return int(n), err
}

func (h *StoreHistory) Close() error {
	return h.store.Close()
}

// OpenHistory returns a SQLite-backed history at cfg.Path, or an in-memory one when Path is empty.
func OpenHistory(cfg config.HistoryConfig, logger *zap.Logger) (History, error) {
	if cfg.Path == "" {
		return NewMemoryHistory(), nil
	}
	store, err := storage.NewSQLiteStorage(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if logger != nil {
		logger.Debug("history opened", zap.String("path", cfg.Path))
	}
	return NewStoreHistory(store), nil
}
