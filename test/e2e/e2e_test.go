package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generator"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/source"
)

const (
	e2eTopK       = 5
	e2eDimensions = 64
)

type env struct {
	cfg       *config.Config
	retriever *retriever.Retriever
	pipeline  *rag.Pipeline
	sources   *source.Resolver
	http      *httptest.Server
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	var cfg config.Config
	config.ApplyDefaults(&cfg)
	cfg.Index.Path = filepath.Join(root, "vectorstore")
	cfg.Index.KeywordWeight, cfg.Index.SemanticWeight = 0.6, 0.4
	cfg.Sources.DocumentsDir = filepath.Join(root, "docs")
	cfg.Generation.APIKey = ""

	embedder := embedding.NewHashEmbedder(e2eDimensions)
	corpus := BuildCorpus()
	entries, err := corpus.Entries(ctx, embedder)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := retriever.Pack(ctx, cfg.Index.Path, retriever.Manifest{
		EmbeddingModel: embedder.Name(),
		IndexType:      retriever.TypeHybrid,
	}, entries); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := os.MkdirAll(cfg.Sources.DocumentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteDocuments(cfg.Sources.DocumentsDir, corpus.Topics); err != nil {
		t.Fatalf("write documents: %v", err)
	}

	r := retriever.New(cfg.Index, retriever.WithEmbedder(embedder), retriever.WithMaxK(cfg.Retrieval.MaxTopK))
	t.Cleanup(func() { _ = r.Close() })
	gen := generator.New(ctx, cfg.Generation)
	p := rag.NewPipeline(r, gen, cfg.Retrieval)
	resolver := source.NewResolver(cfg.Sources.DocumentsDir)
	srv := server.NewServer(p, r, resolver, &cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &env{cfg: &cfg, retriever: r, pipeline: p, sources: resolver, http: ts}
}

func TestE2E_LookupReturnsExpectedSource(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if !e.retriever.Load(ctx) {
		t.Fatalf("index not loaded: %s", e.retriever.LastError())
	}
	for _, tc := range BuildCorpus().TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			out := e.retriever.Lookup(ctx, tc.Query, e2eTopK)
			if out.Kind != retriever.Found {
				t.Fatalf("outcome = %s (%s)", out.Kind, out.Reason)
			}
			if len(out.Passages) > e2eTopK {
				t.Errorf("got %d passages, want at most %d", len(out.Passages), e2eTopK)
			}
			for i := 1; i < len(out.Passages); i++ {
				if out.Passages[i].Score > out.Passages[i-1].Score {
					t.Errorf("passages not in descending score order at %d", i)
				}
			}
			for _, p := range out.Passages {
				if p.SourceName == tc.ExpectedSource {
					return
				}
			}
			t.Errorf("query %q: %s not in %v", tc.Query, tc.ExpectedSource, out.Passages.Sources())
		})
	}
}

func TestE2E_AskWithFallbackBackend(t *testing.T) {
	e := setup(t)

	var st models.GeneratorStatus
	getJSON(t, e.http.URL+"/api/v1/status", &st)
	if st.Backend != models.BackendFallback || st.Model != generator.FallbackModelName {
		t.Fatalf("status = %+v", st)
	}

	var rec models.AnswerRecord
	postJSON(t, e.http.URL+"/api/v1/ask", map[string]any{"query": "warfarin INR monitoring", "k": 3}, &rec)
	if rec.BackendUsed != models.BackendFallback || strings.TrimSpace(rec.Answer) == "" {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Sources) == 0 || len(rec.Sources) > 3 {
		t.Fatalf("got %d sources", len(rec.Sources))
	}
	var top *models.Passage
	for i := range rec.Sources {
		if rec.Sources[i].SourceName == "anticoagulation.pptx" {
			top = &rec.Sources[i]
			break
		}
	}
	if top == nil {
		t.Fatalf("anticoagulation.pptx missing from %v", rec.Sources.Sources())
	}
	if top.FilePath == "" {
		t.Fatal("source file path not resolved")
	}

	q := url.Values{}
	q.Set("path", top.FilePath)
	q.Set("page", strconv.Itoa(top.PageNumber))
	q.Set("highlight", top.Text)
	var page source.Page
	getJSON(t, e.http.URL+"/api/v1/sources/page?"+q.Encode(), &page)
	if page.Text != top.Text || page.Total != 2 {
		t.Errorf("page = %+v", page)
	}
	if len(page.Highlights) != 1 || page.Highlights[0].Offset != 0 {
		t.Errorf("highlights = %+v", page.Highlights)
	}

	var hist struct {
		Records []*models.AnswerRecord `json:"records"`
		Total   int                    `json:"total"`
	}
	getJSON(t, e.http.URL+"/api/v1/history", &hist)
	if hist.Total != 1 || hist.Records[0].ID != rec.ID {
		t.Errorf("history = %+v", hist)
	}
}

func TestE2E_BlankQueryRejected(t *testing.T) {
	e := setup(t)
	body, _ := json.Marshal(map[string]any{"query": "   "})
	resp, err := http.Post(e.http.URL+"/api/v1/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestE2E_SourcePagesForEveryFormat(t *testing.T) {
	e := setup(t)
	for _, topic := range BuildCorpus().Topics {
		if filepath.Ext(topic.Source) == ".pdf" {
			continue
		}
		for i, text := range topic.Pages {
			p := models.Passage{Text: text, SourceName: topic.Source, PageNumber: i}
			if filepath.Ext(topic.Source) == ".docx" {
				p.PageNumber = 0
			}
			page, err := e.sources.PassagePage(p)
			if err != nil {
				t.Errorf("%s page %d: %v", topic.Source, i, err)
				continue
			}
			if !strings.Contains(page.Text, text) {
				t.Errorf("%s page %d: text %q does not contain %q", topic.Source, i, page.Text, text)
			}
			if len(page.Highlights) == 0 {
				t.Errorf("%s page %d: no highlight", topic.Source, i)
			}
		}
	}
}

func getJSON(t *testing.T, u string, out any) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func postJSON(t *testing.T, u string, in, out any) {
	t.Helper()
	body, _ := json.Marshal(in)
	resp, err := http.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}
