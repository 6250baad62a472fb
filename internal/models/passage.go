// Package models defines the data shared across retrieval, generation and the API.
package models

import "strings"

// Passage is a stored chunk of document content returned by a search.
// Passages are immutable once returned.
type Passage struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SourceName string `json:"source"`
	// PageNumber is zero-based.
	PageNumber int    `json:"page"`
	FilePath   string `json:"file_path,omitempty"`
	// Score is the ranker's relevance score; informational only.
	Score float64 `json:"score"`
}

// DisplayPage returns the one-based page number shown to users.
func (p Passage) DisplayPage() int {
	return p.PageNumber + 1
}

// Valid reports whether p satisfies the invariants of a search result.
func (p Passage) Valid() bool {
	return strings.TrimSpace(p.Text) != "" && p.PageNumber >= 0
}

// Bundle is the ordered set of passages retrieved for one query, most relevant first.
type Bundle []Passage

// Sources returns the distinct source names in bundle order.
func (b Bundle) Sources() []string {
	seen := make(map[string]bool, len(b))
	var out []string
	for _, p := range b {
		if !seen[p.SourceName] {
			seen[p.SourceName] = true
			out = append(out, p.SourceName)
		}
	}
	return out
}
