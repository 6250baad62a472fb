package retriever

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Entry is one precomputed passage to pack into an index artifact.
type Entry struct {
	ID       string    `json:"id,omitempty"`
	Text     string    `json:"text"`
	Source   string    `json:"source"`
	Page     int       `json:"page"`
	FilePath string    `json:"file_path,omitempty"`
	Vector   []float32 `json:"vector,omitempty"`
}

// PassageID returns a stable ID for a passage from its provenance and position.
func PassageID(source string, page, position int) string {
	key := source + "\x00" + strconv.Itoa(page) + "\x00" + strconv.Itoa(position)
	hash := sha256.Sum256([]byte(key))
	return "p:" + hex.EncodeToString(hash[:12])
}

// ReadEntries decodes one JSON entry per line. Blank lines are skipped.
func ReadEntries(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []Entry
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return out, nil
}

// Pack writes an index artifact to dir from entries with precomputed vectors.
// dir must be absent or empty. The manifest is written last, so a directory with a
// manifest always holds a complete artifact. m.Passages and m.CreatedAt are filled in.
func Pack(ctx context.Context, dir string, m Manifest, entries []Entry) (*Manifest, error) {
	if len(entries) == 0 {
		return nil, errors.New("no entries to pack")
	}
	if m.IndexType == "" {
		m.IndexType = TypeMemory
	}
	m.Passages = len(entries)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.usesVectors() && m.Dimension == 0 {
		m.Dimension = len(entries[0].Vector)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if err := ensureEmptyDir(dir); err != nil {
		return nil, err
	}

	passages := make([]*storage.StoredPassage, len(entries))
	ids := make([]string, len(entries))
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			return nil, fmt.Errorf("entry %d: empty text", i)
		}
		if e.Page < 0 {
			return nil, fmt.Errorf("entry %d: negative page %d", i, e.Page)
		}
		if m.usesVectors() && len(e.Vector) != m.Dimension {
			return nil, fmt.Errorf("entry %d: vector has %d dimensions, want %d", i, len(e.Vector), m.Dimension)
		}
		id := e.ID
		if id == "" {
			id = PassageID(e.Source, e.Page, i)
		}
		if j, dup := seen[id]; dup {
			return nil, fmt.Errorf("entry %d: duplicate id %s (first at %d)", i, id, j)
		}
		seen[id] = i
		ids[i] = id
		passages[i] = &storage.StoredPassage{
			Passage: models.Passage{
				ID:         id,
				Text:       e.Text,
				SourceName: e.Source,
				PageNumber: e.Page,
				FilePath:   e.FilePath,
			},
			Position: i,
		}
	}

	if err := writePassages(ctx, dir, passages); err != nil {
		return nil, err
	}
	if m.usesVectors() {
		vectors := make([][]float32, len(entries))
		for i, e := range entries {
			vectors[i] = e.Vector
		}
		if err := writeVectors(ctx, dir, m.vectorType(), m.Dimension, ids, vectors); err != nil {
			return nil, err
		}
	}
	if m.usesKeywords() {
		docs := make([]keyword.Document, len(entries))
		for i, e := range entries {
			docs[i] = keyword.Document{Text: e.Text, Source: e.Source}
		}
		if err := writeKeywords(ctx, dir, ids, docs); err != nil {
			return nil, err
		}
	}
	if err := WriteManifest(dir, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func ensureEmptyDir(dir string) error {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to read output dir: %w", err)
	}
	if len(ents) > 0 {
		return fmt.Errorf("output dir %s is not empty", dir)
	}
	return nil
}

func writePassages(ctx context.Context, dir string, passages []*storage.StoredPassage) error {
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, PassagesFile), storage.WithoutWAL())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.BatchCreatePassages(ctx, passages); err != nil {
		return fmt.Errorf("failed to write passages: %w", err)
	}
	return nil
}

func writeVectors(ctx context.Context, dir, indexType string, dim int, ids []string, vectors [][]float32) error {
	idx, err := vector.NewIndex(indexType, dim)
	if err != nil {
		return err
	}
	defer idx.Close()
	if err := idx.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to add vectors: %w", err)
	}
	if err := idx.Save(filepath.Join(dir, vector.FileName(indexType))); err != nil {
		return fmt.Errorf("failed to save vector index: %w", err)
	}
	return nil
}

func writeKeywords(ctx context.Context, dir string, ids []string, docs []keyword.Document) error {
	idx, err := keyword.NewBleveIndex(filepath.Join(dir, KeywordDir))
	if err != nil {
		return err
	}
	if err := idx.IndexBatch(ctx, ids, docs); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to index keywords: %w", err)
	}
	return idx.Close()
}
