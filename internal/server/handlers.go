package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/generator"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/source"
)

type askRequest struct {
	Query       string   `json:"query" validate:"required,notblank"`
	K           *int     `json:"k,omitempty" validate:"omitempty,topk"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gt=0,lte=1"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,min=1"`
}

func (a *askRequest) toRequest() rag.Request {
	req := rag.Request{
		Query:  a.Query,
		Params: generator.Params{Temperature: a.Temperature, TopP: a.TopP, MaxTokens: a.MaxTokens},
	}
	if a.K != nil {
		req.K = *a.K
	}
	return req
}

type searchRequest struct {
	Query string `json:"query" validate:"required,notblank"`
	K     *int   `json:"k,omitempty" validate:"omitempty,topk"`
}

type noResultsResponse struct {
	NoResults bool   `json:"no_results"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
}

type searchResponse struct {
	Outcome  string        `json:"outcome"`
	Passages models.Bundle `json:"passages"`
	Reason   string        `json:"reason,omitempty"`
}

type historyResponse struct {
	Records []*models.AnswerRecord `json:"records"`
	Total   int                    `json:"total"`
}

// decode reads a JSON body into v and validates it, writing the error response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.respondJSON(w, http.StatusBadRequest, verr)
			return false
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) withResolvedSources(rec *models.AnswerRecord) *models.AnswerRecord {
	out := rec.Clone()
	out.Sources = s.sources.ResolveAll(out.Sources)
	return out
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var in askRequest
	if !s.decode(w, r, &in) {
		return
	}
	s.logger.Debug("ask request", zap.String("query", in.Query))
	res, err := s.pipeline.Ask(r.Context(), in.toRequest())
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	if res.NoResults {
		s.respondJSON(w, http.StatusOK, noResultsResponse{NoResults: true, Message: res.Message, Reason: res.Reason})
		return
	}
	s.respondJSON(w, http.StatusOK, s.withResolvedSources(res.Record))
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	var in askRequest
	if !s.decode(w, r, &in) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ctx := r.Context()
	stream, err := s.pipeline.AskStream(ctx, in.toRequest())
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if stream.NoResults {
		s.sendSSE(w, flusher, "done", noResultsResponse{NoResults: true, Message: stream.Message, Reason: stream.Reason})
		return
	}
	s.sendSSE(w, flusher, "sources", s.sources.ResolveAll(stream.Sources))
	for frag := range stream.Fragments() {
		if ctx.Err() != nil {
			s.logger.Debug("client went away during stream")
			return
		}
		s.sendSSE(w, flusher, "token", map[string]string{"text": frag})
	}
	if rec := stream.Record(); rec != nil {
		s.sendSSE(w, flusher, "done", s.withResolvedSources(rec))
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var in searchRequest
	if !s.decode(w, r, &in) {
		return
	}
	k := s.config.Retrieval.TopK
	if in.K != nil {
		k = *in.K
	}
	out := s.index.Lookup(r.Context(), in.Query, k)
	passages := s.sources.ResolveAll(out.Passages)
	if passages == nil {
		passages = models.Bundle{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Outcome: out.Kind.String(), Passages: passages, Reason: out.Reason})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pipeline.Generator().Status())
}

func (s *Server) handleReprobe(w http.ResponseWriter, r *http.Request) {
	st := s.pipeline.Generator().Reprobe(r.Context())
	s.logger.Info("generator reprobed", zap.String("backend", string(st.Backend)))
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.index.Stats())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.index.Reload(r.Context()); err != nil {
		s.logger.Warn("index reload failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.index.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.config.History.DisplayLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	ctx := r.Context()
	history := s.pipeline.History()
	records, err := history.List(ctx, limit)
	if err != nil {
		s.logger.Error("history: list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := history.Len(ctx)
	if err != nil {
		s.logger.Error("history: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*models.AnswerRecord{}
	}
	s.respondJSON(w, http.StatusOK, historyResponse{Records: records, Total: total})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.History().Clear(r.Context()); err != nil {
		s.logger.Error("history: clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleSourcePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	page := 0
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		page = n
	}
	p, err := s.sources.Page(path, page)
	switch {
	case errors.Is(err, source.ErrNoDocumentsDir):
		s.respondError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, source.ErrOutsideRoot):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	case err != nil:
		s.logger.Warn("source page failed", zap.String("path", path), zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if text := q.Get("highlight"); text != "" {
		p.Highlights = source.Highlights(p.Text, text)
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, rag.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("ask failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
