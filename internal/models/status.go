package models

// GeneratorStatus describes the answer generator's backend classification.
type GeneratorStatus struct {
	Backend BackendKind `json:"backend"`
	Model   string      `json:"model"`
	Ready   bool        `json:"ready"`
	Error   string      `json:"error,omitempty"`
}

// IndexStats is a read-only snapshot of the loaded passage index.
type IndexStats struct {
	Loaded         bool   `json:"loaded"`
	TotalChunks    int    `json:"total_chunks"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Dimension      int    `json:"dimension,omitempty"`
	IndexType      string `json:"index_type,omitempty"`
	Path           string `json:"path,omitempty"`
	DiskUsageBytes int64  `json:"disk_usage_bytes,omitempty"`
	Error          string `json:"error,omitempty"`
}
