package config

import "time"

// Defaults for the remote backend. The base URL targets any OpenAI-compatible chat completions API.
const (
	DefaultBaseURL   = "https://openrouter.ai/api/v1"
	DefaultAPIKeyEnv = "OPENROUTER_API_KEY"
	DefaultModel     = "meta-llama/llama-3.1-70b-instruct"
	DefaultModelName = "Llama 3.1 70B via OpenRouter"
	DefaultReferer   = "http://localhost"
	DefaultTitle     = "kotae"

	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "./vectorstore"
	}
	if cfg.Index.EmbeddingModel == "" {
		cfg.Index.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Index.KeywordWeight == 0 && cfg.Index.SemanticWeight == 0 {
		cfg.Index.KeywordWeight = 0.3
		cfg.Index.SemanticWeight = 0.7
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 20
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = 8000
	}
	g := &cfg.Generation
	if g.BaseURL == "" {
		g.BaseURL = DefaultBaseURL
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = DefaultAPIKeyEnv
	}
	if g.Model == "" {
		g.Model = DefaultModel
	}
	if g.ModelName == "" {
		if g.Model == DefaultModel {
			g.ModelName = DefaultModelName
		} else {
			g.ModelName = g.Model
		}
	}
	if g.Referer == "" {
		g.Referer = DefaultReferer
	}
	if g.Title == "" {
		g.Title = DefaultTitle
	}
	if g.Temperature == 0 {
		g.Temperature = 0.3
	}
	if g.TopP == 0 {
		g.TopP = 0.9
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 1024
	}
	if g.MaxContextChars == 0 {
		g.MaxContextChars = cfg.Retrieval.MaxContextChars
	}
	if g.ProbeTimeout == 0 {
		g.ProbeTimeout = 10 * time.Second
	}
	if g.Timeout == 0 {
		g.Timeout = 30 * time.Second
	}
	if g.StreamTimeout == 0 {
		g.StreamTimeout = 60 * time.Second
	}
	if cfg.History.DisplayLimit == 0 {
		cfg.History.DisplayLimit = 10
	}
}
