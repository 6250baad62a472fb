// Package config provides configuration loading and structs for the kotae server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	History    HistoryConfig    `yaml:"history"`
	Sources    SourcesConfig    `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// IndexConfig describes the precomputed passage index the retriever opens.
type IndexConfig struct {
	Path string `yaml:"path"`
	// EmbeddingModel is the model name the index was built with. The manifest wins when both are set.
	EmbeddingModel string `yaml:"embedding_model"`
	// Watch enables hot reload when files under Path change.
	Watch          bool    `yaml:"watch"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// EmbeddingConfig holds query embedder settings.
type EmbeddingConfig struct {
	// Provider is "onnx" or "hash".
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// RetrievalConfig holds search defaults.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxTopK         int `yaml:"max_top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
	// MinScore, when set, drops passages scoring below it.
	MinScore *float64 `yaml:"min_score"`
}

// GenerationConfig configures the remote completion backend and the answer generator.
type GenerationConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	// APIKey is never read from or written to the YAML file; see ApplyEnv.
	APIKey    string `yaml:"-"`
	Model     string `yaml:"model"`
	ModelName string `yaml:"model_name"`
	// Referer and Title are sent as HTTP-Referer and X-Title attribution headers.
	Referer         string        `yaml:"referer"`
	Title           string        `yaml:"title"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	MaxTokens       int           `yaml:"max_tokens"`
	MaxContextChars int           `yaml:"max_context_chars"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	Timeout         time.Duration `yaml:"timeout"`
	StreamTimeout   time.Duration `yaml:"stream_timeout"`
}

// HistoryConfig holds answer history settings. An empty Path keeps history in memory.
type HistoryConfig struct {
	Path         string `yaml:"path"`
	DisplayLimit int    `yaml:"display_limit"`
}

// SourcesConfig points at the original documents the index was built from.
type SourcesConfig struct {
	DocumentsDir string `yaml:"documents_dir"`
}

// Environment variables read by ApplyEnv in addition to Generation.APIKeyEnv.
const (
	EnvModel     = "OPENROUTER_MODEL"
	EnvPublicURL = "APP_PUBLIC_URL"
	EnvTitle     = "APP_TITLE"
)

// Load reads and parses the config file at path, expands paths, and applies defaults and environment overrides.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Index.Path = expandPath(cfg.Index.Path, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.History.Path != "" {
		cfg.History.Path = expandPath(cfg.History.Path, configDir)
	}
	if cfg.Sources.DocumentsDir != "" {
		cfg.Sources.DocumentsDir = expandPath(cfg.Sources.DocumentsDir, configDir)
	}

	ApplyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault tries path when non-empty, then ./config.yaml, then ~/.config/kotae/config.yaml.
// When none exists it returns defaults with environment overrides applied, and an empty source path.
func LoadDefault(path string) (*Config, string, error) {
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "kotae", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, "", nil
}

// LoadDotEnv loads .env files into the process environment. Missing files are skipped;
// variables already set in the environment are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv copies secrets and overrides from the environment into cfg.
func ApplyEnv(cfg *Config) {
	if cfg.Generation.APIKeyEnv != "" {
		cfg.Generation.APIKey = strings.TrimSpace(os.Getenv(cfg.Generation.APIKeyEnv))
	}
	if v := os.Getenv(EnvModel); v != "" && v != cfg.Generation.Model {
		if cfg.Generation.ModelName == "" || cfg.Generation.ModelName == DefaultModelName || cfg.Generation.ModelName == cfg.Generation.Model {
			cfg.Generation.ModelName = v
		}
		cfg.Generation.Model = v
	}
	if v := os.Getenv(EnvPublicURL); v != "" {
		cfg.Generation.Referer = v
	}
	if v := os.Getenv(EnvTitle); v != "" {
		cfg.Generation.Title = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
