// Package keyword provides BM25 keyword search over passages.
package keyword

import "context"

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SourceBoost multiplies the score contribution from matches in the source name field.
	// Values > 1 make source-name matches rank higher. Use 1.0 for no boost.
	SourceBoost float64
	// PhraseBoost multiplies the score when query terms appear as a phrase in the text.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 2.
	Fuzziness int
}

// Index defines keyword search operations over passages.
type Index interface {
	Index(ctx context.Context, id string, doc Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	DocCount() (uint64, error)
	Close() error
}

// Document is the indexed form of a passage.
type Document struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Result is a single keyword search hit.
type Result struct {
	ID    string
	Score float64
}
