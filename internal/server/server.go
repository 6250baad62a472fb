// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/source"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Index is the retrieval side the API needs. *retriever.Retriever implements it.
type Index interface {
	rag.Searcher
	Stats() models.IndexStats
	Reload(ctx context.Context) error
}

// Server is the HTTP server for the kotae API.
type Server struct {
	pipeline *rag.Pipeline
	index    Index
	sources  *source.Resolver
	config   *config.Config
	logger   *zap.Logger
	validate *requestValidator
	server   *http.Server
}

// NewServer creates a server with the given dependencies. sources may be nil.
func NewServer(
	pipeline *rag.Pipeline,
	index Index,
	sources *source.Resolver,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	logger = utils.OrNop(logger)
	if sources == nil {
		sources = source.NewResolver("")
	}
	return &Server{
		pipeline: pipeline,
		index:    index,
		sources:  sources,
		config:   cfg,
		logger:   logger,
		validate: newRequestValidator(cfg.Retrieval.MaxTopK),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Streaming responses are neither compressed nor cut by the request timeout.
	r.Post("/api/v1/ask/stream", s.handleAskStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Post("/api/v1/ask", s.handleAsk)
		r.Post("/api/v1/search", s.handleSearch)
		r.Get("/api/v1/status", s.handleStatus)
		r.Post("/api/v1/status/reprobe", s.handleReprobe)
		r.Get("/api/v1/stats", s.handleStats)
		r.Post("/api/v1/index/reload", s.handleReload)
		r.Get("/api/v1/history", s.handleHistory)
		r.Delete("/api/v1/history", s.handleClearHistory)
		r.Get("/api/v1/sources/page", s.handleSourcePage)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
