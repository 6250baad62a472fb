package vector

import (
	"context"
	"testing"
)

func TestNewIndex_Memory(t *testing.T) {
	for _, typ := range []string{"memory", ""} {
		idx, err := NewIndex(typ, 3)
		if err != nil {
			t.Fatalf("NewIndex(%q): %v", typ, err)
		}
		if err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if idx.Size() != 1 || idx.Dimensions() != 3 {
			t.Errorf("Size=%d Dimensions=%d", idx.Size(), idx.Dimensions())
		}
		_ = idx.Close()
	}
}

func TestNewIndex_Errors(t *testing.T) {
	if _, err := NewIndex("unknown", 3); err == nil {
		t.Error("expected error for unknown index type")
	}
	if _, err := NewIndex("memory", 0); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestFileName(t *testing.T) {
	if FileName("memory") != "vectors.idx" || FileName("") != "vectors.idx" {
		t.Error("memory index file name")
	}
	if FileName("faiss") != "vectors" {
		t.Error("faiss index base name")
	}
}

func TestNewIndex_FAISS(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}
	idx, err := NewIndex("faiss", 3)
	if err != nil {
		t.Fatalf("NewIndex(faiss): %v", err)
	}
	defer idx.Close()
	if err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}
