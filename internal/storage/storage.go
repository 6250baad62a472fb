// Package storage persists passages and answer history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a passage ID is unknown.
var ErrNotFound = errors.New("not found")

// StoredPassage is a passage together with its position in the index artifact.
// Position is the insertion order and is used as the final ranking tie-break.
type StoredPassage struct {
	models.Passage
	Position int
}

// PassageStore holds the passage text and provenance of an index artifact.
type PassageStore interface {
	BatchCreatePassages(ctx context.Context, passages []*StoredPassage) error
	GetPassage(ctx context.Context, id string) (*StoredPassage, error)
	// GetPassages returns the passages for ids keyed by ID. Unknown IDs are absent from the map.
	GetPassages(ctx context.Context, ids []string) (map[string]*StoredPassage, error)
	ListPassages(ctx context.Context, offset, limit int) ([]*StoredPassage, error)
	CountPassages(ctx context.Context) (int64, error)
	Close() error
}

// HistoryStore persists answer records, newest first.
type HistoryStore interface {
	AppendAnswer(ctx context.Context, rec *models.AnswerRecord) error
	// ListAnswers returns up to limit records, newest first. limit <= 0 returns all.
	ListAnswers(ctx context.Context, limit int) ([]*models.AnswerRecord, error)
	ClearAnswers(ctx context.Context) error
	CountAnswers(ctx context.Context) (int64, error)
	Close() error
}
