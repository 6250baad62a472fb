// Package vector provides read-mostly vector indexes over passage embeddings.
package vector

import "context"

// Index stores passage vectors and answers nearest-neighbour queries by inner product.
// Implementations must return hits ordered by descending score, with ties broken by
// insertion order, so repeated searches over the same index are identical.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Hit, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// Hit is a single vector search hit. ID is the passage ID it was added with.
type Hit struct {
	ID    string
	Score float64 // inner product; cosine similarity for normalized vectors
}
