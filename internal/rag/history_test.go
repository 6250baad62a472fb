package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
)

func historyImpls(t *testing.T) map[string]History {
	t.Helper()
	sqlite, err := OpenHistory(config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]History{
		"memory": NewMemoryHistory(),
		"sqlite": sqlite,
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for name, h := range historyImpls(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 12; i++ {
				rec := &models.AnswerRecord{
					ID:          fmt.Sprintf("r%02d", i),
					Query:       fmt.Sprintf("q%d", i),
					Answer:      "a",
					Sources:     models.Bundle{{ID: "p", Text: "t", SourceName: "s.pdf", PageNumber: i}},
					BackendUsed: models.BackendRemote,
					Timestamp:   base.Add(time.Duration(i) * time.Minute),
				}
				require.NoError(t, h.Append(ctx, rec))
			}

			n, err := h.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 12, n)

			recent, err := h.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, recent, 10)
			assert.Equal(t, "r11", recent[0].ID, "newest first")
			assert.Equal(t, "r02", recent[9].ID)
			assert.Equal(t, 11, recent[0].Sources[0].PageNumber)

			all, err := h.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 12)

			require.NoError(t, h.Clear(ctx))
			n, err = h.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestMemoryHistory_RecordsAreImmutable(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory()
	rec := &models.AnswerRecord{ID: "x", Answer: "original", Sources: models.Bundle{{Text: "t"}}}
	require.NoError(t, h.Append(ctx, rec))

	rec.Answer = "changed"
	rec.Sources[0].Text = "changed"

	list, err := h.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "original", list[0].Answer)
	assert.Equal(t, "t", list[0].Sources[0].Text)

	list[0].Answer = "mutated by reader"
	again, _ := h.List(ctx, 1)
	assert.Equal(t, "original", again[0].Answer)
}
