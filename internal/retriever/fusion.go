package retriever

import (
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// candidate is a ranked passage ID before the passage text is fetched.
type candidate struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// normalizeKeywordScores scales BM25 scores to [0,1] by the maximum.
func normalizeKeywordScores(results []*keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// semanticScores returns cosine scores clamped at 0 so opposite vectors never outrank a keyword hit.
func semanticScores(hits []*vector.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		s := h.Score
		if s < 0 {
			s = 0
		}
		out[h.ID] = s
	}
	return out
}

// fuse merges keyword and semantic score maps with weights. The result is unordered;
// callers sort after positions are known.
func fuse(keywordScores, semantic map[string]float64, keywordWeight, semanticWeight float64) []candidate {
	byID := make(map[string]*candidate, len(keywordScores)+len(semantic))
	for id, s := range keywordScores {
		byID[id] = &candidate{ID: id, KeywordScore: s}
	}
	for id, s := range semantic {
		if c, ok := byID[id]; ok {
			c.SemanticScore = s
		} else {
			byID[id] = &candidate{ID: id, SemanticScore: s}
		}
	}
	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		c.Score = keywordWeight*c.KeywordScore + semanticWeight*c.SemanticScore
		out = append(out, *c)
	}
	return out
}
