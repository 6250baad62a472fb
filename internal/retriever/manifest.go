package retriever

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Artifact file names inside an index directory.
const (
	ManifestFile = "manifest.yaml"
	PassagesFile = "passages.db"
	KeywordDir   = "keyword.bleve"
)

// Index types recorded in a manifest.
const (
	TypeMemory  = "memory"
	TypeFAISS   = "faiss"
	TypeKeyword = "keyword"
	TypeHybrid  = "hybrid"
)

// Manifest describes a precomputed index artifact.
type Manifest struct {
	EmbeddingModel string `yaml:"embedding_model"`
	Dimension      int    `yaml:"dimension"`
	IndexType      string `yaml:"index_type"`
	// VectorType selects the vector half of a hybrid index ("memory" or "faiss").
	VectorType string    `yaml:"vector_type,omitempty"`
	Passages   int       `yaml:"passages"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// ErrNoManifest is returned when an index directory has no manifest.
var ErrNoManifest = errors.New("index manifest not found")

// ReadManifest reads and validates the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteManifest writes m to dir.
func WriteManifest(dir string, m *Manifest) error {
	if err := m.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *Manifest) validate() error {
	switch m.IndexType {
	case TypeMemory, TypeFAISS, TypeHybrid:
		if m.Dimension <= 0 {
			return fmt.Errorf("invalid manifest: %s index needs a positive dimension", m.IndexType)
		}
	case TypeKeyword:
	default:
		return fmt.Errorf("invalid manifest: unknown index_type %q", m.IndexType)
	}
	if m.Passages < 0 {
		return fmt.Errorf("invalid manifest: negative passage count")
	}
	return nil
}

// usesVectors reports whether the index needs a query embedder.
func (m *Manifest) usesVectors() bool {
	return m.IndexType != TypeKeyword
}

func (m *Manifest) usesKeywords() bool {
	return m.IndexType == TypeKeyword || m.IndexType == TypeHybrid
}

// vectorType returns the vector index type backing m.
func (m *Manifest) vectorType() string {
	if m.IndexType == TypeHybrid {
		if m.VectorType == "" {
			return TypeMemory
		}
		return m.VectorType
	}
	return m.IndexType
}
