package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStorage implements PassageStore and HistoryStore on one SQLite database.
type SQLiteStorage struct {
	db       *sql.DB
	readOnly bool
}

// SQLiteOption configures NewSQLiteStorage.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	readOnly bool
	noWAL    bool
}

// ReadOnly opens an existing database without creating it or its schema.
func ReadOnly() SQLiteOption {
	return func(o *sqliteOptions) { o.readOnly = true }
}

// WithoutWAL keeps the default rollback journal. Databases that are later opened
// ReadOnly are written this way so readers never need the -shm file.
func WithoutWAL() SQLiteOption {
	return func(o *sqliteOptions) { o.noWAL = true }
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. dbPath may be ":memory:".
func NewSQLiteStorage(dbPath string, opts ...SQLiteOption) (*SQLiteStorage, error) {
	var o sqliteOptions
	for _, opt := range opts {
		opt(&o)
	}

	dsn := dbPath
	if o.readOnly {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		dsn = "file:" + dbPath + "?mode=ro"
	} else if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if !o.readOnly {
		if dbPath != ":memory:" && !o.noWAL {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to enable WAL: %w", err)
			}
		}
		if err := initSchema(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLiteStorage{db: db, readOnly: o.readOnly}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		page INTEGER NOT NULL DEFAULT 0 CHECK (page >= 0),
		file_path TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_passages_position ON passages(position);

	CREATE TABLE IF NOT EXISTS answer_history (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources TEXT NOT NULL,
		retrieval_ns INTEGER NOT NULL,
		generation_ns INTEGER NOT NULL,
		backend TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_created_at ON answer_history(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// BatchCreatePassages inserts passages in a single transaction.
func (s *SQLiteStorage) BatchCreatePassages(ctx context.Context, passages []*StoredPassage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (id, position, content, source, page, file_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range passages {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Position, p.Text, p.SourceName, p.PageNumber, p.FilePath); err != nil {
			return fmt.Errorf("insert passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

const passageColumns = `id, position, content, source, page, file_path`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPassage(row rowScanner) (*StoredPassage, error) {
	var p StoredPassage
	if err := row.Scan(&p.ID, &p.Position, &p.Text, &p.SourceName, &p.PageNumber, &p.FilePath); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPassage returns a passage by ID.
func (s *SQLiteStorage) GetPassage(ctx context.Context, id string) (*StoredPassage, error) {
	p, err := scanPassage(s.db.QueryRowContext(ctx,
		`SELECT `+passageColumns+` FROM passages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("passage %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPassages returns the passages for ids keyed by ID.
func (s *SQLiteStorage) GetPassages(ctx context.Context, ids []string) (map[string]*StoredPassage, error) {
	out := make(map[string]*StoredPassage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passageColumns+` FROM passages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ListPassages returns passages in position order.
func (s *SQLiteStorage) ListPassages(ctx context.Context, offset, limit int) ([]*StoredPassage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+passageColumns+` FROM passages ORDER BY position LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StoredPassage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPassages returns the total number of passages.
func (s *SQLiteStorage) CountPassages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count)
	return count, err
}

// AppendAnswer stores a history record.
func (s *SQLiteStorage) AppendAnswer(ctx context.Context, rec *models.AnswerRecord) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answer_history (id, query, answer, sources, retrieval_ns, generation_ns, backend, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.Answer, string(sources),
		int64(rec.RetrievalDuration), int64(rec.GenerationDuration),
		string(rec.BackendUsed), rec.Timestamp.UnixNano(),
	)
	return err
}

// ListAnswers returns up to limit records, newest first.
func (s *SQLiteStorage) ListAnswers(ctx context.Context, limit int) ([]*models.AnswerRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, answer, sources, retrieval_ns, generation_ns, backend, created_at
		 FROM answer_history ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AnswerRecord
	for rows.Next() {
		var (
			rec                    models.AnswerRecord
			sources, backend       string
			retrievalNS, genNS, ts int64
		)
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.Answer, &sources, &retrievalNS, &genNS, &backend, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources of %s: %w", rec.ID, err)
		}
		rec.RetrievalDuration = time.Duration(retrievalNS)
		rec.GenerationDuration = time.Duration(genNS)
		rec.BackendUsed = models.BackendKind(backend)
		rec.Timestamp = time.Unix(0, ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ClearAnswers deletes all history records.
func (s *SQLiteStorage) ClearAnswers(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM answer_history`)
	return err
}

// CountAnswers returns the number of history records.
func (s *SQLiteStorage) CountAnswers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM answer_history`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
