// Package rag wires retrieval and answer generation into the question answering pipeline
// and keeps the display history of answers.
package rag

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/generator"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/pkg/utils"
)

// NoResultsMessage is shown when retrieval finds nothing for a query.
const NoResultsMessage = "No relevant information found"

// ErrEmptyQuery is returned for blank questions.
var ErrEmptyQuery = errors.New("query is empty")

// Searcher is the retrieval side of the pipeline. *retriever.Retriever implements it.
type Searcher interface {
	Lookup(ctx context.Context, query string, k int) retriever.Outcome
}

// Request is one question.
type Request struct {
	Query  string
	K      int
	Params generator.Params
}

// Result is the outcome of Ask. Exactly one of Record and NoResults is set.
type Result struct {
	Record    *models.AnswerRecord
	NoResults bool
	Message   string
	// Reason explains a NoResults caused by an unavailable index.
	Reason string
}

// Pipeline answers questions: retrieve, format context, generate, record.
type Pipeline struct {
	retriever Searcher
	generator *generator.Generator
	history   History
	cfg       config.RetrievalConfig
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithHistory sets where answers are recorded. The default is an in-memory history.
func WithHistory(h History) Option {
	return func(p *Pipeline) { p.history = h }
}

// NewPipeline creates a pipeline over r and g.
func NewPipeline(r Searcher, g *generator.Generator, cfg config.RetrievalConfig, opts ...Option) *Pipeline {
	p := &Pipeline{retriever: r, generator: g, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	if p.history == nil {
		p.history = NewMemoryHistory()
	}
	if p.cfg.TopK <= 0 {
		p.cfg.TopK = 3
	}
	return p
}

// History returns the answer history.
func (p *Pipeline) History() History { return p.history }

// Generator returns the answer generator.
func (p *Pipeline) Generator() *generator.Generator { return p.generator }

type retrieval struct {
	query   string
	outcome retriever.Outcome
	elapsed time.Duration
}

func (p *Pipeline) retrieve(ctx context.Context, req Request) (*retrieval, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	k := req.K
	if k <= 0 {
		k = p.cfg.TopK
	}
	start := time.Now()
	out := p.retriever.Lookup(ctx, query, k)
	elapsed := time.Since(start)
	if out.Kind == retriever.StoreUnavailable {
		p.logger.Warn("index unavailable", zap.String("reason", out.Reason))
	}
	return &retrieval{query: query, outcome: out, elapsed: elapsed}, nil
}

func noResults(r *retrieval) *Result {
	return &Result{NoResults: true, Message: NoResultsMessage, Reason: r.outcome.Reason}
}

// Ask answers req.Query. It fails only for an empty query; retrieval with no matches yields
// a NoResults result and nothing is generated or recorded.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Result, error) {
	r, err := p.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.outcome.Kind != retriever.Found {
		return noResults(r), nil
	}

	docContext := FormatContext(r.outcome.Passages, p.cfg.MaxContextChars)
	start := time.Now()
	ans := p.generator.Generate(ctx, r.query, docContext, req.Params)
	rec := p.record(ctx, r, ans, time.Since(start))
	return &Result{Record: rec}, nil
}

func (p *Pipeline) record(ctx context.Context, r *retrieval, ans generator.Answer, generation time.Duration) *models.AnswerRecord {
	if ans.Err != nil {
		p.logger.Debug("answer degraded", zap.String("backend", string(ans.Backend)), zap.Error(ans.Err))
	}
	rec := &models.AnswerRecord{
		ID:                 uuid.New().String(),
		Query:              r.query,
		Answer:             ans.Text,
		Sources:            append(models.Bundle(nil), r.outcome.Passages...),
		RetrievalDuration:  r.elapsed,
		GenerationDuration: generation,
		BackendUsed:        ans.Backend,
		Timestamp:          p.now(),
	}
	if err := p.history.Append(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("failed to record answer", zap.String("id", rec.ID), zap.Error(err))
	}
	return rec
}

// Stream is a streaming answer. Sources are known before any fragment is produced.
type Stream struct {
	Sources   models.Bundle
	NoResults bool
	Message   string
	Reason    string

	fragments iter.Seq[string]
	used      atomic.Bool
	rec       atomic.Pointer[models.AnswerRecord]
}

// Fragments returns the single-use fragment sequence. It is empty for a NoResults stream.
func (s *Stream) Fragments() iter.Seq[string] {
	if s.fragments == nil {
		return func(func(string) bool) {}
	}
	return s.fragments
}

// Record returns the recorded answer once Fragments has been consumed to the end, else nil.
func (s *Stream) Record() *models.AnswerRecord {
	return s.rec.Load()
}

// AskStream is Ask with the answer delivered as fragments. The record is appended after the
// fragment sequence is fully consumed; a consumer that stops early records nothing.
func (p *Pipeline) AskStream(ctx context.Context, req Request) (*Stream, error) {
	r, err := p.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.outcome.Kind != retriever.Found {
		res := noResults(r)
		return &Stream{NoResults: true, Message: res.Message, Reason: res.Reason}, nil
	}

	s := &Stream{Sources: r.outcome.Passages}
	docContext := FormatContext(r.outcome.Passages, p.cfg.MaxContextChars)
	streamed := p.generator.StreamAnswer(ctx, r.query, docContext, req.Params)
	inner := streamed.Fragments()
	s.fragments = func(yield func(string) bool) {
		if !s.used.CompareAndSwap(false, true) {
			return
		}
		start := time.Now()
		done := true
		for frag := range inner {
			if !yield(frag) {
				done = false
				break
			}
		}
		if !done {
			p.logger.Debug("stream abandoned by consumer", zap.String("query", r.query))
			return
		}
		if ans := streamed.Answer(); ans.Text != "" {
			s.rec.Store(p.record(ctx, r, ans, time.Since(start)))
		}
	}
	return s, nil
}
