//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

// ErrFAISSUnavailable is returned by every FAISSIndex method in builds without FAISS.
var ErrFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a placeholder used when the faiss build tag is not set.
type FAISSIndex struct{}

// NewFAISSIndex always fails in builds without FAISS.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, ErrFAISSUnavailable
}

func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return ErrFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*Hit, error) {
	return nil, ErrFAISSUnavailable
}

func (f *FAISSIndex) Save(path string) error { return ErrFAISSUnavailable }

func (f *FAISSIndex) Load(path string) error { return ErrFAISSUnavailable }

func (f *FAISSIndex) Size() int { return 0 }

func (f *FAISSIndex) Dimensions() int { return 0 }

func (f *FAISSIndex) Close() error { return nil }

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
