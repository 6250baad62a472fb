// Package source resolves the documents passages were cut from and reads single pages of them.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

var (
	// ErrNoDocumentsDir is returned by Page when no documents directory is configured.
	ErrNoDocumentsDir = errors.New("documents directory not configured")
	// ErrOutsideRoot is returned for paths that escape the documents directory.
	ErrOutsideRoot = errors.New("path outside documents directory")
)

// Page is the text of one page of a source document. Index is zero-based and already clamped.
type Page struct {
	Path       string      `json:"path"`
	Index      int         `json:"page"`
	Total      int         `json:"total_pages"`
	Text       string      `json:"text"`
	Highlights []Highlight `json:"highlights,omitempty"`
}

// Resolver finds source documents under a root directory.
type Resolver struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	found map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a resolver over documentsDir. An empty documentsDir resolves nothing.
func NewResolver(documentsDir string, opts ...Option) *Resolver {
	r := &Resolver{found: make(map[string]string)}
	if documentsDir != "" {
		if abs, err := filepath.Abs(documentsDir); err == nil {
			documentsDir = abs
		}
		r.root = filepath.Clean(documentsDir)
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Root returns the documents directory, or "" when none is configured.
func (r *Resolver) Root() string { return r.root }

// Resolve returns p with FilePath set to the document named by SourceName when it can be found.
// A FilePath that is already set is kept.
func (r *Resolver) Resolve(p models.Passage) models.Passage {
	if p.FilePath != "" || r.root == "" || p.SourceName == "" {
		return p
	}
	if path, ok := r.lookup(p.SourceName); ok {
		p.FilePath = path
	}
	return p
}

// ResolveAll applies Resolve to every passage of b and returns a new bundle.
func (r *Resolver) ResolveAll(b models.Bundle) models.Bundle {
	out := make(models.Bundle, len(b))
	for i, p := range b {
		out[i] = r.Resolve(p)
	}
	return out
}

// lookup caches found paths only, so a document added later is picked up on the next call.
// The directory walk runs without holding the lock.
func (r *Resolver) lookup(name string) (string, bool) {
	r.mu.Lock()
	path, ok := r.found[name]
	r.mu.Unlock()
	if ok {
		if isFile(path) {
			return path, true
		}
		r.mu.Lock()
		delete(r.found, name)
		r.mu.Unlock()
	}

	path = ""
	if direct, err := r.within(name); err == nil && isFile(direct) {
		path = direct
	}
	if path == "" {
		base := filepath.Base(name)
		_ = filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && d.Name() == base {
				path = p
				return fs.SkipAll
			}
			return nil
		})
	}
	if path == "" {
		r.logger.Debug("source document not found", zap.String("source", name))
		return "", false
	}
	r.mu.Lock()
	r.found[name] = path
	r.mu.Unlock()
	return path, true
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// within joins name to the root, rejecting results outside it. Absolute names must already be inside.
func (r *Resolver) within(name string) (string, error) {
	var path string
	if filepath.IsAbs(name) {
		path = filepath.Clean(name)
	} else {
		path = filepath.Join(r.root, name)
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return path, nil
}

// Page reads page index of the document at path, which is a source name or a path inside the
// documents directory. The index is clamped to [0, total-1].
func (r *Resolver) Page(path string, index int) (*Page, error) {
	if r.root == "" {
		return nil, ErrNoDocumentsDir
	}
	full, err := r.within(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(full); errors.Is(err, fs.ErrNotExist) {
		if found, ok := r.lookup(path); ok {
			full = found
		}
	}

	pages, err := ReadPages(full)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		pages = []string{""}
	}
	index = max(0, min(index, len(pages)-1))
	return &Page{Path: full, Index: index, Total: len(pages), Text: pages[index]}, nil
}

// PassagePage reads the page p came from and marks where p's text occurs on it.
func (r *Resolver) PassagePage(p models.Passage) (*Page, error) {
	p = r.Resolve(p)
	path := p.FilePath
	if path == "" {
		path = p.SourceName
	}
	page, err := r.Page(path, p.PageNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read page of %s: %w", p.SourceName, err)
	}
	page.Highlights = Highlights(page.Text, p.Text)
	return page, nil
}
