package retriever

import (
	"testing"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

func TestNormalizeKeywordScores(t *testing.T) {
	m := normalizeKeywordScores([]*keyword.Result{
		{ID: "a", Score: 2},
		{ID: "b", Score: 4},
		{ID: "c", Score: 1},
	})
	if m["b"] != 1.0 || m["a"] != 0.5 || m["c"] != 0.25 {
		t.Errorf("unexpected map %v", m)
	}
	if got := normalizeKeywordScores(nil); len(got) != 0 {
		t.Errorf("nil input should give empty map, got %v", got)
	}
}

func TestSemanticScoresClampNegative(t *testing.T) {
	m := semanticScores([]*vector.Hit{{ID: "x", Score: 0.9}, {ID: "y", Score: -0.4}})
	if m["x"] != 0.9 || m["y"] != 0 {
		t.Errorf("unexpected map %v", m)
	}
}

func TestFuse(t *testing.T) {
	out := fuse(
		map[string]float64{"d1": 1.0, "d2": 0.5},
		map[string]float64{"d1": 0.5, "d3": 1.0},
		0.3, 0.7,
	)
	if len(out) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out))
	}
	byID := map[string]candidate{}
	for _, c := range out {
		byID[c.ID] = c
	}
	if got := byID["d1"].Score; got < 0.649 || got > 0.651 {
		t.Errorf("d1 = %v, want 0.65", got)
	}
	if got := byID["d3"].Score; got < 0.699 || got > 0.701 {
		t.Errorf("d3 = %v, want 0.7", got)
	}
	if byID["d2"].SemanticScore != 0 || byID["d2"].KeywordScore != 0.5 {
		t.Errorf("d2 = %+v", byID["d2"])
	}
}
