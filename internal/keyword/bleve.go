package keyword

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func passageMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer: lowercase + tokenize, no stemming, so exact clinical terms match
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", textFieldMapping)
	im.AddDocumentMapping("passage", docMapping)
	im.DefaultType = "passage"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates a new Bleve index at path. It fails if path already exists.
func NewBleveIndex(path string) (*BleveIndex, error) {
	index, err := bleve.New(path, passageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// OpenBleveIndex opens an existing Bleve index read-only.
func OpenBleveIndex(path string) (*BleveIndex, error) {
	index, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes a passage by id.
func (b *BleveIndex) Index(ctx context.Context, id string, doc Document) error {
	return b.index.Index(id, doc)
}

// IndexBatch indexes many passages in one batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, ids []string, docs []Document) error {
	if len(ids) != len(docs) {
		return fmt.Errorf("ids and docs length mismatch: %d != %d", len(ids), len(docs))
	}
	batch := b.index.NewBatch()
	for i := range ids {
		if err := batch.Index(ids[i], docs[i]); err != nil {
			return fmt.Errorf("failed to batch passage %s: %w", ids[i], err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query and returns up to limit results, score descending, ID ascending on ties.
// With SourceBoost or PhraseBoost > 1 the text and source fields are queried separately
// and merged additively with a term coverage penalty.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sourceBoost := 1.0
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.SourceBoost > 0 {
			sourceBoost = opts.SourceBoost
		}
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	if sourceBoost <= 1.0 && phraseBoost <= 1.0 {
		return b.searchSingle(ctx, query, limit, fuzzyEnabled, fuzziness)
	}
	return b.searchWithBoosts(ctx, query, limit, sourceBoost, phraseBoost, fuzzyEnabled, fuzziness)
}

func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, fuzzyEnabled bool, fuzziness int) ([]*Result, error) {
	var q blevequery.Query
	if fuzzyEnabled {
		q = buildFuzzyQuery(query, fuzziness, "")
	} else {
		q = bleve.NewMatchQuery(query)
	}
	req := bleve.NewSearchRequest(q)
	// ask for a little more than limit so equal-score hits at the cut can be ordered by ID
	req.Size = limit * 2
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	scores := make(map[string]float64, len(results.Hits))
	for _, hit := range results.Hits {
		scores[hit.ID] = hit.Score
	}
	return topResults(scores, limit), nil
}

func (b *BleveIndex) searchWithBoosts(ctx context.Context, query string, limit int, sourceBoost, phraseBoost float64, fuzzyEnabled bool, fuzziness int) ([]*Result, error) {
	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	terms := tokenizeQuery(query)
	numTerms := len(terms)

	var sourceQuery, textQuery blevequery.Query
	if fuzzyEnabled {
		sourceQuery = buildFuzzyQuery(query, fuzziness, "source")
		textQuery = buildFuzzyQuery(query, fuzziness, "text")
	} else {
		sq := bleve.NewMatchQuery(query)
		sq.SetField("source")
		sourceQuery = sq
		tq := bleve.NewMatchQuery(query)
		tq.SetField("text")
		textQuery = tq
	}

	sourceReq := bleve.NewSearchRequest(sourceQuery)
	sourceReq.Size = reqSize
	textReq := bleve.NewSearchRequest(textQuery)
	textReq.Size = reqSize

	sourceResults, err := b.index.SearchInContext(ctx, sourceReq)
	if err != nil {
		return nil, fmt.Errorf("Bleve source search failed: %w", err)
	}
	textResults, err := b.index.SearchInContext(ctx, textReq)
	if err != nil {
		return nil, fmt.Errorf("Bleve text search failed: %w", err)
	}

	base := make(map[string]float64)
	for _, hit := range sourceResults.Hits {
		base[hit.ID] += hit.Score * sourceBoost
	}
	for _, hit := range textResults.Hits {
		base[hit.ID] += hit.Score
	}

	var coverage map[string]int
	if numTerms > 1 {
		coverage = b.termCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness)
	}
	var phrases map[string]bool
	if phraseBoost > 1.0 && numTerms > 1 {
		phrases = b.phraseMatches(ctx, query, reqSize)
	}

	scores := make(map[string]float64, len(base))
	for id, s := range base {
		// (matched/total)^2 so passages matching every term outrank partial matches
		if numTerms > 1 {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(numTerms)
			s *= c * c
		}
		if phrases[id] {
			s *= phraseBoost
		}
		scores[id] = s
	}
	return topResults(scores, limit), nil
}

func topResults(scores map[string]float64, limit int) []*Result {
	out := make([]*Result, 0, len(scores))
	for id, s := range scores {
		out = append(out, &Result{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of fuzzy queries, one per query term.
// An empty field searches all fields.
func buildFuzzyQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many distinct query terms each passage matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, reqSize int, fuzzyEnabled bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		var q blevequery.Query
		if fuzzyEnabled {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			q = fq
		} else {
			q = bleve.NewMatchQuery(term)
		}
		req := bleve.NewSearchRequest(q)
		req.Size = reqSize
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range results.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

func (b *BleveIndex) phraseMatches(ctx context.Context, query string, reqSize int) map[string]bool {
	matches := make(map[string]bool)
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField("text")
	req := bleve.NewSearchRequest(pq)
	req.Size = reqSize
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return matches
	}
	for _, hit := range results.Hits {
		matches[hit.ID] = true
	}
	return matches
}

// DocCount returns the total number of passages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
