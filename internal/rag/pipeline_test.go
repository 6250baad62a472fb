package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/generator"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/retriever"
)

type fakeSearcher struct {
	mu      sync.Mutex
	outcome retriever.Outcome
	calls   []int
}

func (f *fakeSearcher) Lookup(_ context.Context, _ string, k int) retriever.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, k)
	return f.outcome
}

type fakeBackend struct {
	answer    string
	fragments []string
	err       error
	prompts   []string
}

func (b *fakeBackend) Complete(_ context.Context, req *generator.ChatRequest) (string, error) {
	if req.MaxTokens == 5 {
		return "pong", nil
	}
	b.prompts = append(b.prompts, req.Messages[len(req.Messages)-1].Content)
	return b.answer, b.err
}

func (b *fakeBackend) Stream(_ context.Context, req *generator.ChatRequest) (generator.Stream, error) {
	b.prompts = append(b.prompts, req.Messages[len(req.Messages)-1].Content)
	if b.err != nil {
		return nil, b.err
	}
	return &fragStream{frags: b.fragments}, nil
}

type fragStream struct {
	frags []string
}

func (s *fragStream) Next() (string, error) {
	if len(s.frags) == 0 {
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *fragStream) Close() error { return nil }

var hypertension = models.Bundle{
	{ID: "a", Text: "Thiazide diuretics are first-line for hypertension.", SourceName: "guidelines.pdf", PageNumber: 4, Score: 2},
	{ID: "b", Text: "ACE inhibitors lower blood pressure.", SourceName: "pharmacology.pdf", PageNumber: 0, Score: 1},
}

func newTestGenerator(t *testing.T, b generator.Backend) *generator.Generator {
	t.Helper()
	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	return generator.New(context.Background(), cfg.Generation, generator.WithBackend(b))
}

func newTestPipeline(t *testing.T, s Searcher, b generator.Backend) *Pipeline {
	t.Helper()
	return NewPipeline(s, newTestGenerator(t, b), config.RetrievalConfig{TopK: 3, MaxContextChars: 8000})
}

func TestAsk(t *testing.T) {
	s := &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.Found, Passages: hypertension}}
	b := &fakeBackend{answer: "Thiazides."}
	p := newTestPipeline(t, s, b)

	res, err := p.Ask(context.Background(), Request{Query: "  hypertension treatment  "})
	require.NoError(t, err)
	require.False(t, res.NoResults)
	rec := res.Record
	require.NotNil(t, rec)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "hypertension treatment", rec.Query)
	assert.Equal(t, "Thiazides.", rec.Answer)
	assert.Equal(t, models.BackendRemote, rec.BackendUsed)
	assert.Equal(t, hypertension, rec.Sources)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, []int{3}, s.calls, "default k")

	require.Len(t, b.prompts, 1)
	assert.Contains(t, b.prompts[0], "[Source: guidelines.pdf - Page 5]\nThiazide diuretics")
	assert.True(t, strings.HasSuffix(b.prompts[0], "Question: hypertension treatment"))

	list, err := p.History().List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestAsk_ExplicitK(t *testing.T) {
	s := &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.Found, Passages: hypertension[:1]}}
	p := newTestPipeline(t, s, &fakeBackend{answer: "ok"})
	_, err := p.Ask(context.Background(), Request{Query: "q", K: 7})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, s.calls)
}

func TestAsk_EmptyQuery(t *testing.T) {
	s := &fakeSearcher{}
	p := newTestPipeline(t, s, &fakeBackend{})
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := p.Ask(context.Background(), Request{Query: q})
		assert.ErrorIs(t, err, ErrEmptyQuery)
		_, err = p.AskStream(context.Background(), Request{Query: q})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
	assert.Empty(t, s.calls)
}

func TestAsk_NoResults(t *testing.T) {
	tests := []struct {
		name    string
		outcome retriever.Outcome
		reason  string
	}{
		{"no matches", retriever.Outcome{Kind: retriever.NoMatches}, ""},
		{"store unavailable", retriever.Outcome{Kind: retriever.StoreUnavailable, Reason: "manifest missing"}, "manifest missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{answer: "should not be used"}
			p := newTestPipeline(t, &fakeSearcher{outcome: tt.outcome}, b)

			res, err := p.Ask(context.Background(), Request{Query: "quantum chromodynamics"})
			require.NoError(t, err)
			assert.True(t, res.NoResults)
			assert.Nil(t, res.Record)
			assert.Equal(t, NoResultsMessage, res.Message)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Empty(t, b.prompts, "nothing is generated")

			n, err := p.History().Len(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "nothing is recorded")
		})
	}
}

func TestAsk_FallbackAnswerIsRecorded(t *testing.T) {
	s := &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.Found, Passages: hypertension}}
	b := &fakeBackend{err: errors.New("upstream timeout")}
	p := newTestPipeline(t, s, b)

	res, err := p.Ask(context.Background(), Request{Query: "hypertension"})
	require.NoError(t, err)
	assert.Equal(t, models.BackendFallback, res.Record.BackendUsed)
	assert.Contains(t, res.Record.Answer, "Fallback mode active")
	assert.Contains(t, res.Record.Answer, "upstream timeout")
}

func TestAskStream(t *testing.T) {
	s := &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.Found, Passages: hypertension}}
	b := &fakeBackend{fragments: []string{"Treat", "ment is", " X."}}
	p := newTestPipeline(t, s, b)

	st, err := p.AskStream(context.Background(), Request{Query: "hypertension"})
	require.NoError(t, err)
	assert.Equal(t, hypertension, st.Sources)
	assert.Nil(t, st.Record(), "not recorded before consumption")

	var got []string
	for f := range st.Fragments() {
		got = append(got, f)
	}
	assert.Equal(t, []string{"Treat", "ment is", " X."}, got)

	rec := st.Record()
	require.NotNil(t, rec)
	assert.Equal(t, "Treatment is X.", rec.Answer)
	assert.Equal(t, models.BackendRemote, rec.BackendUsed)

	for range st.Fragments() {
		t.Fatal("second iteration must yield nothing")
	}
	n, _ := p.History().Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestAskStream_AbandonedIsNotRecorded(t *testing.T) {
	s := &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.Found, Passages: hypertension}}
	p := newTestPipeline(t, s, &fakeBackend{fragments: []string{"a", "b", "c"}})

	st, err := p.AskStream(context.Background(), Request{Query: "hypertension"})
	require.NoError(t, err)
	for range st.Fragments() {
		break
	}
	assert.Nil(t, st.Record())
	n, _ := p.History().Len(context.Background())
	assert.Zero(t, n)
}

func TestAskStream_NoResults(t *testing.T) {
	p := newTestPipeline(t, &fakeSearcher{outcome: retriever.Outcome{Kind: retriever.NoMatches}}, &fakeBackend{})
	st, err := p.AskStream(context.Background(), Request{Query: "nothing"})
	require.NoError(t, err)
	assert.True(t, st.NoResults)
	assert.Equal(t, NoResultsMessage, st.Message)
	for range st.Fragments() {
		t.Fatal("no fragments expected")
	}
	assert.Nil(t, st.Record())
}

func TestFormatContext(t *testing.T) {
	got := FormatContext(hypertension, 0)
	want := "[Source: guidelines.pdf - Page 5]\nThiazide diuretics are first-line for hypertension.\n\n" +
		"[Source: pharmacology.pdf - Page 1]\nACE inhibitors lower blood pressure."
	assert.Equal(t, want, got)

	assert.Equal(t, want[:20], FormatContext(hypertension, 20))
	assert.Empty(t, FormatContext(nil, 100))
}
