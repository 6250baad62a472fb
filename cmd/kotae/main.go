// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generator"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/retriever"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/source"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

// loadConfig loads .env and then the config at path, or the first default location when path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	return config.LoadDefault(path)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "stats":
		runStats()
	case "history":
		runHistory()
	case "pack":
		runPack()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func parseFormat(jsonOut bool) cli.OutputFormat {
	if jsonOut {
		return cli.OutputJSON
	}
	return cli.OutputText
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default: ./config.yaml, then ~/.config/kotae/config.yaml)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if !components.Retriever.Load(ctx) {
		logger.Warn("starting without an index; lookups report the store as unavailable",
			zap.String("reason", components.Retriever.LastError()))
	}

	var watchSvc *watcher.Watcher
	if cfg.Index.Watch {
		watchSvc = watcher.New(cfg.Index.Path, components.Retriever.Reload,
			watcher.WithTriggers(retriever.ManifestFile, retriever.PassagesFile),
			watcher.WithLogger(logger))
		if err := watchSvc.Start(ctx); err != nil {
			logger.Warn("index watcher not started", zap.Error(err))
			watchSvc = nil
		}
	}

	srv := server.NewServer(components.Pipeline, components.Retriever, components.Sources, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so `kotae ask "query" --k 5` would
// otherwise leave --k unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// samplingFlags registers --temperature, --top-p and --max-tokens on fs. The returned
// func, called after Parse, reports only the flags that were given, so an explicit
// --temperature 0 is kept and omitted flags take the configured defaults.
func samplingFlags(fs *flag.FlagSet) func() generator.Params {
	temperature := fs.Float64("temperature", 0, "sampling temperature in [0,1] (default from config)")
	topP := fs.Float64("top-p", 0, "nucleus sampling in (0,1] (default from config)")
	maxTokens := fs.Int("max-tokens", 0, "maximum answer tokens (default from config)")
	return func() generator.Params {
		var p generator.Params
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "temperature":
				p.Temperature = generator.Ptr(*temperature)
			case "top-p":
				p.TopP = generator.Ptr(*topP)
			case "max-tokens":
				p.MaxTokens = generator.Ptr(*maxTokens)
			}
		})
		return p
	}
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = answer locally)")
	k := fs.Int("k", 0, "number of passages to retrieve (default from config)")
	stream := fs.Bool("stream", false, "print the answer as it is generated")
	jsonOut := fs.Bool("json", false, "print the answer record as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	sampling := samplingFlags(fs)
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))
	params := sampling()

	query := buildSearchQuery(fs.Args())
	if query == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*jsonOut)

	if *serverURL != "" {
		if *stream {
			fail("--stream is not supported with --server")
		}
		resp, err := askViaHTTP(*serverURL, query, *k, params)
		if err != nil {
			fail("Ask failed: %v", err)
		}
		if resp.NoResults {
			_ = cli.WriteNoResults(os.Stdout, resp.Message, resp.Reason, format)
			return
		}
		if err := cli.WriteAnswer(os.Stdout, &resp.AnswerRecord, format); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	req := rag.Request{Query: query, K: *k, Params: params}
	if *stream && format == cli.OutputText {
		s, err := components.Pipeline.AskStream(ctx, req)
		if err != nil {
			fail("Ask failed: %v", err)
		}
		if s.NoResults {
			_ = cli.WriteNoResults(os.Stdout, s.Message, s.Reason, format)
			return
		}
		fmt.Println()
		for frag := range s.Fragments() {
			fmt.Print(frag)
		}
		fmt.Print("\n\n")
		if rec := s.Record(); rec != nil {
			cli.WriteSources(os.Stdout, rec.Sources)
			cli.WriteTimings(os.Stdout, rec.RetrievalDuration, rec.GenerationDuration, rec.BackendUsed)
		}
		return
	}

	res, err := components.Pipeline.Ask(ctx, req)
	if err != nil {
		fail("Ask failed: %v", err)
	}
	if res.NoResults {
		_ = cli.WriteNoResults(os.Stdout, res.Message, res.Reason, format)
		return
	}
	if err := cli.WriteAnswer(os.Stdout, res.Record, format); err != nil {
		fail("Output failed: %v", err)
	}
}

// askResponse is the body of POST /api/v1/ask: either an answer record or a no-results notice.
type askResponse struct {
	models.AnswerRecord
	NoResults bool   `json:"no_results"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

type searchResponse struct {
	Outcome  string        `json:"outcome"`
	Passages models.Bundle `json:"passages"`
	Reason   string        `json:"reason"`
}

func postJSON(serverURL, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func getJSON(serverURL, path string, out any) error {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func askViaHTTP(serverURL, query string, k int, params generator.Params) (*askResponse, error) {
	in := map[string]any{"query": query}
	if k > 0 {
		in["k"] = k
	}
	if params.Temperature != nil {
		in["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		in["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		in["max_tokens"] = *params.MaxTokens
	}
	var out askResponse
	if err := postJSON(serverURL, "/api/v1/ask", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the local index)")
	k := fs.Int("k", 0, "number of passages (default from config)")
	jsonOut := fs.Bool("json", false, "print results as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		fs.Usage()
		os.Exit(1)
	}
	format := parseFormat(*jsonOut)

	var out searchResponse
	if *serverURL != "" {
		in := map[string]any{"query": query}
		if *k > 0 {
			in["k"] = *k
		}
		if err := postJSON(*serverURL, "/api/v1/search", in, &out); err != nil {
			fail("Search failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		r := newRetriever(cfg, nil, logger)
		defer r.Close()
		n := *k
		if n <= 0 {
			n = cfg.Retrieval.TopK
		}
		outcome := r.Lookup(context.Background(), query, n)
		out = searchResponse{Outcome: outcome.Kind.String(), Passages: outcome.Passages, Reason: outcome.Reason}
		if cfg.Sources.DocumentsDir != "" {
			out.Passages = source.NewResolver(cfg.Sources.DocumentsDir).ResolveAll(out.Passages)
		}
	}
	if err := cli.WritePassages(os.Stdout, out.Outcome, out.Passages, out.Reason, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = probe the backend directly)")
	reprobe := fs.Bool("reprobe", false, "ask the server to probe the backend again")
	jsonOut := fs.Bool("json", false, "print status as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	var st models.GeneratorStatus
	switch {
	case *serverURL != "" && *reprobe:
		if err := postJSON(*serverURL, "/api/v1/status/reprobe", struct{}{}, &st); err != nil {
			fail("Status failed: %v", err)
		}
	case *serverURL != "":
		if err := getJSON(*serverURL, "/api/v1/status", &st); err != nil {
			fail("Status failed: %v", err)
		}
	default:
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		st = generator.New(context.Background(), cfg.Generation, generator.WithLogger(logger)).Status()
	}
	if err := cli.WriteStatus(os.Stdout, st, parseFormat(*jsonOut)); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open the local index)")
	jsonOut := fs.Bool("json", false, "print stats as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	var stats models.IndexStats
	if *serverURL != "" {
		if err := getJSON(*serverURL, "/api/v1/stats", &stats); err != nil {
			fail("Stats failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, *debug)
		defer logger.Sync()
		r := newRetriever(cfg, nil, logger)
		defer r.Close()
		r.Load(context.Background())
		stats = r.Stats()
	}
	if err := cli.WriteStats(os.Stdout, stats, parseFormat(*jsonOut)); err != nil {
		fail("Output failed: %v", err)
	}
}

type historyResponse struct {
	Records []*models.AnswerRecord `json:"records"`
	Total   int                    `json:"total"`
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the configured history database)")
	limit := fs.Int("limit", 0, "number of records to show (default from config)")
	clearAll := fs.Bool("clear", false, "delete all history")
	jsonOut := fs.Bool("json", false, "print records as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		base := strings.TrimRight(*serverURL, "/") + "/api/v1/history"
		if *clearAll {
			req, _ := http.NewRequest(http.MethodDelete, base, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				fail("Request failed: %v", err)
			}
			var out map[string]any
			if err := decodeResponse(resp, &out); err != nil {
				fail("Clear failed: %v", err)
			}
			fmt.Println("History cleared")
			return
		}
		path := "/api/v1/history"
		if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		var out historyResponse
		if err := getJSON(*serverURL, path, &out); err != nil {
			fail("History failed: %v", err)
		}
		if err := cli.WriteHistory(os.Stdout, out.Records, parseFormat(*jsonOut)); err != nil {
			fail("Output failed: %v", err)
		}
		return
	}

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if cfg.History.Path == "" {
		fail("history.path is not configured; history is kept in memory by the server (use --server)")
	}
	h, err := rag.OpenHistory(cfg.History, logger)
	if err != nil {
		fail("%v", err)
	}
	defer h.Close()
	ctx := context.Background()
	if *clearAll {
		if err := h.Clear(ctx); err != nil {
			fail("Clear failed: %v", err)
		}
		fmt.Println("History cleared")
		return
	}
	n := *limit
	if n <= 0 {
		n = cfg.History.DisplayLimit
	}
	records, err := h.List(ctx, n)
	if err != nil {
		fail("History failed: %v", err)
	}
	if err := cli.WriteHistory(os.Stdout, records, parseFormat(*jsonOut)); err != nil {
		fail("Output failed: %v", err)
	}
}

func runPack() {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	out := fs.String("out", "", "output index directory (must be absent or empty)")
	indexType := fs.String("type", retriever.TypeMemory, "index type: memory, faiss, keyword, or hybrid")
	vectorType := fs.String("vector-type", "", "vector half of a hybrid index: memory or faiss")
	model := fs.String("model", "", "embedding model name recorded in the manifest")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kotae pack --out DIR [flags] <passages.jsonl | ->\n\n")
		fmt.Fprintf(fs.Output(), "Each line is a JSON object: {\"text\", \"source\", \"page\", \"vector\", \"id\", \"file_path\"}.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if *out == "" || fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *model == "" {
		*model = cfg.Index.EmbeddingModel
	}

	var in io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fail("Failed to open entries: %v", err)
		}
		defer f.Close()
		in = f
	}

	m := retriever.Manifest{EmbeddingModel: *model, IndexType: *indexType, VectorType: *vectorType}
	written, err := packIndex(context.Background(), in, *out, m)
	if err != nil {
		fail("Pack failed: %v", err)
	}
	logger.Debug("index packed", zap.String("dir", *out), zap.String("type", written.IndexType))
	fmt.Printf("Packed %d passages into %s (type %s", written.Passages, *out, written.IndexType)
	if written.Dimension > 0 {
		fmt.Printf(", dimension %d", written.Dimension)
	}
	fmt.Println(")")
}

// packIndex reads entries from in and writes the index artifact to dir.
// Vector index types need every entry to carry a precomputed vector.
func packIndex(ctx context.Context, in io.Reader, dir string, m retriever.Manifest) (*retriever.Manifest, error) {
	entries, err := retriever.ReadEntries(in)
	if err != nil {
		return nil, err
	}
	return retriever.Pack(ctx, dir, m, entries)
}

// Components holds initialized services.
type Components struct {
	Embedder  embedding.Embedder
	Retriever *retriever.Retriever
	Generator *generator.Generator
	History   rag.History
	Pipeline  *rag.Pipeline
	Sources   *source.Resolver
}

func (c *Components) Close() {
	if c.Retriever != nil {
		_ = c.Retriever.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	e, err := embedding.New(cfg.Embedding.Provider, embedding.Options{
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return e, nil
}

func newRetriever(cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) *retriever.Retriever {
	opts := []retriever.Option{
		retriever.WithLogger(logger),
		retriever.WithMaxK(cfg.Retrieval.MaxTopK),
	}
	if embedder != nil {
		opts = append(opts, retriever.WithEmbedder(embedder))
	} else if e, err := newEmbedder(cfg, logger); err == nil {
		opts = append(opts, retriever.WithEmbedder(e))
	}
	if cfg.Retrieval.MinScore != nil {
		opts = append(opts, retriever.WithMinScore(*cfg.Retrieval.MinScore))
	}
	return retriever.New(cfg.Index, opts...)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &Components{Embedder: embedder}
	c.Retriever = newRetriever(cfg, embedder, logger)

	c.Generator = generator.New(ctx, cfg.Generation, generator.WithLogger(logger))
	st := c.Generator.Status()
	logger.Info("generator ready",
		zap.String("backend", string(st.Backend)),
		zap.String("model", st.Model),
		zap.String("error", st.Error))

	c.History, err = rag.OpenHistory(cfg.History, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Pipeline = rag.NewPipeline(c.Retriever, c.Generator, cfg.Retrieval,
		rag.WithHistory(c.History),
		rag.WithLogger(logger))
	c.Sources = source.NewResolver(cfg.Sources.DocumentsDir, source.WithLogger(logger))
	return c, nil
}

func printUsage() {
	fmt.Println(`kotae - Question answering over a precomputed passage index

Usage:
  kotae server [flags]                 Start the HTTP server
  kotae ask [flags] <question>         Answer a question from the index
  kotae search [flags] <query>         Show the passages retrieved for a query
  kotae status [flags]                 Show which generation backend is active
  kotae stats [flags]                  Show index statistics
  kotae history [flags]                Show recent answers
  kotae pack --out DIR <entries.jsonl> Build an index artifact from passages
  kotae version                        Show version
  kotae help                           Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then ~/.config/kotae/config.yaml)
  --server string    Talk to a running server instead of opening the index directly
  --json             Structured JSON output
  --debug            Enable debug logging

Ask Flags:
  --k int            Number of passages to retrieve (default from config, 3)
  --stream           Print the answer as it is generated

History Flags:
  --limit int        Number of records (default from config, 10)
  --clear            Delete all history

Pack Flags:
  --out string          Output directory (must be absent or empty)
  --type string         memory, faiss, keyword, or hybrid (default: memory)
  --vector-type string  Vector half of a hybrid index (default: memory)
  --model string        Embedding model name recorded in the manifest (default: index.embedding_model)

Environment:
  OPENROUTER_API_KEY  Enables the remote backend; without it answers are extracted from context
  OPENROUTER_MODEL    Overrides generation.model

Examples:
  kotae server
  kotae ask what is the first-line treatment for hypertension
  kotae ask --stream --k 5 "symptoms of diabetes"
  kotae search --json insulin dosing
  kotae pack --out ./index --type hybrid --model all-MiniLM-L6-v2 passages.jsonl
  kotae history --limit 5`)
}
