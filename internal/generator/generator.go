// Package generator produces grounded answers from a remote chat completion backend,
// degrading to a deterministic extractive answer when the backend is unavailable.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// EmptyResponse is returned when the remote backend answers with no content.
const EmptyResponse = "Unable to generate response."

// Params are per-call sampling parameters. A nil field takes the configured default.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Ptr returns a pointer to v, for filling Params.
func Ptr[T any](v T) *T { return &v }

// Normalize replaces nil fields and fields outside Temperature [0,1], TopP (0,1] and
// MaxTokens > 0 with the ones from def.
func (p Params) Normalize(def Params) Params {
	if p.Temperature == nil || *p.Temperature < 0 || *p.Temperature > 1 {
		p.Temperature = def.Temperature
	}
	if p.TopP == nil || *p.TopP <= 0 || *p.TopP > 1 {
		p.TopP = def.TopP
	}
	if p.MaxTokens == nil || *p.MaxTokens <= 0 {
		p.MaxTokens = def.MaxTokens
	}
	return p
}

// Answer is the result of one generation call. Err is set when the call fell back or the
// backend returned nothing; Text is always usable.
type Answer struct {
	Text    string
	Backend models.BackendKind
	Err     error
}

type backendState struct {
	kind    models.BackendKind
	model   string
	lastErr string
}

func (st *backendState) configErr() error {
	if st.lastErr == "" {
		return nil
	}
	return &GenerationError{Kind: KindConfig, Err: errors.New(st.lastErr)}
}

// Generator answers questions over a context string. The backend classification is fixed
// by New and changes only through an explicit Reprobe. It is safe for concurrent use.
type Generator struct {
	cfg        config.GenerationConfig
	backend    Backend
	httpClient *http.Client
	logger     *zap.Logger

	state   atomic.Pointer[backendState]
	probeMu sync.Mutex
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithBackend replaces the OpenRouter backend. The API key is then not required.
func WithBackend(b Backend) Option {
	return func(g *Generator) { g.backend = b }
}

// WithHTTPClient sets the HTTP client of the default backend.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// New builds a Generator and probes the backend once with a minimal request.
// It never fails: any probe failure classifies the generator as fallback.
func New(ctx context.Context, cfg config.GenerationConfig, opts ...Option) *Generator {
	g := &Generator{cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = utils.OrNop(g.logger)
	if g.backend == nil && cfg.APIKey != "" {
		g.backend = NewOpenRouterBackend(cfg, g.httpClient)
	}
	g.state.Store(g.probe(ctx))
	return g
}

func (g *Generator) probe(ctx context.Context) *backendState {
	if g.backend == nil {
		keyEnv := g.cfg.APIKeyEnv
		if keyEnv == "" {
			keyEnv = config.DefaultAPIKeyEnv
		}
		g.logger.Warn("no API key, using extractive fallback", zap.String("env", keyEnv))
		return &backendState{
			kind:    models.BackendFallback,
			model:   FallbackModelName,
			lastErr: fmt.Sprintf("%s not found in environment", keyEnv),
		}
	}

	if g.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ProbeTimeout)
		defer cancel()
	}
	_, err := g.backend.Complete(ctx, &ChatRequest{
		Model:     g.cfg.Model,
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 5,
	})
	if err != nil {
		g.logger.Warn("remote backend probe failed, using extractive fallback",
			zap.String("model", g.cfg.Model), zap.Error(err))
		return &backendState{
			kind:    models.BackendFallback,
			model:   FallbackModelName,
			lastErr: "remote initialization failed: " + err.Error(),
		}
	}
	name := g.cfg.ModelName
	if name == "" {
		name = g.cfg.Model
	}
	g.logger.Info("remote backend ready", zap.String("model", g.cfg.Model))
	return &backendState{kind: models.BackendRemote, model: name}
}

// Status reports the backend classification.
func (g *Generator) Status() models.GeneratorStatus {
	st := g.state.Load()
	return models.GeneratorStatus{
		Backend: st.kind,
		Model:   st.model,
		Ready:   st.kind != models.BackendFallback,
		Error:   st.lastErr,
	}
}

// Reprobe runs the initialization probe again and replaces the classification.
// Nothing calls it implicitly.
func (g *Generator) Reprobe(ctx context.Context) models.GeneratorStatus {
	g.probeMu.Lock()
	defer g.probeMu.Unlock()
	g.state.Store(g.probe(ctx))
	return g.Status()
}

func (g *Generator) defaults() Params {
	// a zero in the config file means unset
	cfg := Params{MaxTokens: Ptr(g.cfg.MaxTokens), TopP: Ptr(g.cfg.TopP)}
	if g.cfg.Temperature != 0 {
		cfg.Temperature = Ptr(g.cfg.Temperature)
	}
	return cfg.Normalize(Params{Temperature: Ptr(0.3), TopP: Ptr(0.9), MaxTokens: Ptr(1024)})
}

func (g *Generator) request(query, docContext string, p Params) *ChatRequest {
	p = p.Normalize(g.defaults())
	return &ChatRequest{
		Model:       g.cfg.Model,
		Messages:    BuildMessages(query, docContext, g.cfg.MaxContextChars),
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxTokens:   *p.MaxTokens,
	}
}

// fallback builds the extractive answer. Its reason is the recorded initialization error,
// or the missing key message when none was recorded; a per-call failure is appended.
func (g *Generator) fallback(query, docContext string, st *backendState, callErr error) string {
	reason := st.lastErr
	if callErr != nil {
		if reason == "" {
			reason = defaultReason
		}
		reason += "; request failed: " + callErr.Error()
	}
	return extractive(query, docContext, reason, g.cfg.APIKeyEnv)
}

func (g *Generator) callFailed(msg string, err error) *GenerationError {
	fields := []zap.Field{zap.Error(err)}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.Int("status", apiErr.StatusCode), zap.Bool("retryable", apiErr.Retryable()))
	}
	g.logger.Warn(msg, fields...)
	return &GenerationError{Kind: KindTransient, Err: err}
}

// Generate answers query from context in one call. It never fails: backend errors
// produce the extractive answer for this call only.
func (g *Generator) Generate(ctx context.Context, query, docContext string, p Params) Answer {
	st := g.state.Load()
	if st.kind == models.BackendFallback {
		return Answer{Text: g.fallback(query, docContext, st, nil), Backend: models.BackendFallback, Err: st.configErr()}
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	content, err := g.backend.Complete(ctx, g.request(query, docContext, p))
	if err != nil {
		return Answer{
			Text:    g.fallback(query, docContext, st, err),
			Backend: models.BackendFallback,
			Err:     g.callFailed("remote generation failed, using extractive fallback", err),
		}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Answer{Text: EmptyResponse, Backend: models.BackendRemote, Err: &GenerationError{Kind: KindEmpty, Err: ErrEmptyContent}}
	}
	return Answer{Text: content, Backend: models.BackendRemote}
}

// Stream answers query from context as a sequence of fragments in arrival order.
// The sequence is single-use: ranging over it again yields nothing.
func (g *Generator) Stream(ctx context.Context, query, docContext string, p Params) iter.Seq[string] {
	return g.StreamAnswer(ctx, query, docContext, p).Fragments()
}

// Streamed is one streaming call. Answer is complete once Fragments has been consumed.
type Streamed struct {
	used atomic.Bool
	seq  iter.Seq[string]

	mu      sync.Mutex
	text    strings.Builder
	backend models.BackendKind
	err     error
}

// Fragments returns the single-use fragment sequence.
func (s *Streamed) Fragments() iter.Seq[string] {
	return func(yield func(string) bool) {
		if !s.used.CompareAndSwap(false, true) {
			return
		}
		s.seq(yield)
	}
}

// Answer returns the concatenated fragments yielded so far with the backend that produced them.
func (s *Streamed) Answer() Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Answer{Text: s.text.String(), Backend: s.backend, Err: s.err}
}

func (s *Streamed) emit(yield func(string) bool, frag string) bool {
	s.mu.Lock()
	s.text.WriteString(frag)
	s.mu.Unlock()
	return yield(frag)
}

func (s *Streamed) setOutcome(backend models.BackendKind, err error) {
	s.mu.Lock()
	s.backend = backend
	s.err = err
	s.mu.Unlock()
}

// StreamAnswer is Stream with access to the final Answer. Empty deltas are skipped and the
// answer is trimmed like Generate's: leading whitespace is dropped and trailing whitespace is
// held back until more text arrives. If the stream fails before or during delivery, the
// extractive answer is yielded as the last fragment and fragments already yielded stay delivered.
func (g *Generator) StreamAnswer(ctx context.Context, query, docContext string, p Params) *Streamed {
	s := &Streamed{}
	s.seq = func(yield func(string) bool) {
		st := g.state.Load()
		if st.kind == models.BackendFallback {
			s.setOutcome(models.BackendFallback, st.configErr())
			s.emit(yield, g.fallback(query, docContext, st, nil))
			return
		}

		cctx := ctx
		if g.cfg.StreamTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, g.cfg.StreamTimeout)
			defer cancel()
		}
		fail := func(err error) {
			s.setOutcome(models.BackendFallback, g.callFailed("remote streaming failed, using extractive fallback", err))
			s.emit(yield, g.fallback(query, docContext, st, err))
		}

		stream, err := g.backend.Stream(cctx, g.request(query, docContext, p))
		if err != nil {
			fail(err)
			return
		}
		defer stream.Close()

		s.setOutcome(models.BackendRemote, nil)
		delivered := false
		var held string // trailing whitespace, emitted only if more text follows
		for {
			frag, err := stream.Next()
			if errors.Is(err, io.EOF) {
				if !delivered {
					s.setOutcome(models.BackendRemote, &GenerationError{Kind: KindEmpty, Err: ErrEmptyContent})
					s.emit(yield, EmptyResponse)
				}
				return
			}
			if err != nil {
				fail(err)
				return
			}
			if !delivered {
				frag = strings.TrimLeftFunc(frag, unicode.IsSpace)
			}
			body := strings.TrimRightFunc(frag, unicode.IsSpace)
			if body == "" {
				if delivered {
					held += frag
				}
				continue
			}
			out := held + body
			held = frag[len(body):]
			delivered = true
			if !s.emit(yield, out) {
				return
			}
		}
	}
	return s
}

