// Package cli formats kotae results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer record with its sources and timings.
func WriteAnswer(w io.Writer, rec *models.AnswerRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rec)
	}
	fmt.Fprintf(w, "\n%s\n\n", rec.Answer)
	WriteSources(w, rec.Sources)
	WriteTimings(w, rec.RetrievalDuration, rec.GenerationDuration, rec.BackendUsed)
	return nil
}

// WriteSources lists the passages an answer was grounded on.
func WriteSources(w io.Writer, sources models.Bundle) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, p := range sources {
		fmt.Fprintf(w, "  [%d] %s - Page %d (score %.4f)\n", i+1, p.SourceName, p.DisplayPage(), p.Score)
	}
}

// WriteTimings writes the retrieval and generation durations and the backend used.
func WriteTimings(w io.Writer, retrieval, generation time.Duration, backend models.BackendKind) {
	fmt.Fprintf(w, "\nRetrieval: %s | Generation: %s | Backend: %s\n",
		retrieval.Round(time.Millisecond), generation.Round(time.Millisecond), backend)
}

type noResults struct {
	NoResults bool   `json:"no_results"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
}

// WriteNoResults reports that nothing relevant was found.
func WriteNoResults(w io.Writer, message, reason string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, noResults{NoResults: true, Message: message, Reason: reason})
	}
	fmt.Fprintln(w, message)
	if reason != "" {
		fmt.Fprintf(w, "(%s)\n", reason)
	}
	return nil
}

type passageList struct {
	Outcome  string        `json:"outcome"`
	Passages models.Bundle `json:"passages"`
	Reason   string        `json:"reason,omitempty"`
}

// WritePassages writes search results in rank order.
func WritePassages(w io.Writer, outcome string, passages models.Bundle, reason string, format OutputFormat) error {
	if format == OutputJSON {
		if passages == nil {
			passages = models.Bundle{}
		}
		return writeJSON(w, passageList{Outcome: outcome, Passages: passages, Reason: reason})
	}
	if len(passages) == 0 {
		fmt.Fprintf(w, "No passages found (%s)\n", outcome)
		if reason != "" {
			fmt.Fprintf(w, "%s\n", reason)
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d passages\n\n", len(passages))
	for i, p := range passages {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, p.Score)
		fmt.Fprintf(w, "Source: %s - Page %d\n", p.SourceName, p.DisplayPage())
		if p.FilePath != "" {
			fmt.Fprintf(w, "File: %s\n", p.FilePath)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(p.Text, 200))
	}
	return nil
}

// WriteStatus writes the generator backend classification.
func WriteStatus(w io.Writer, st models.GeneratorStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "backend:  %s\n", st.Backend)
	fmt.Fprintf(w, "model:    %s\n", st.Model)
	fmt.Fprintf(w, "ready:    %t\n", st.Ready)
	if st.Error != "" {
		fmt.Fprintf(w, "error:    %s\n", st.Error)
	}
	return nil
}

// WriteStats writes index statistics.
func WriteStats(w io.Writer, s models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "loaded:            %t\n", s.Loaded)
	fmt.Fprintf(w, "total_chunks:      %d   # passages in the index\n", s.TotalChunks)
	if s.IndexType != "" {
		fmt.Fprintf(w, "index_type:        %s\n", s.IndexType)
	}
	if s.EmbeddingModel != "" {
		fmt.Fprintf(w, "embedding_model:   %s\n", s.EmbeddingModel)
	}
	if s.Dimension > 0 {
		fmt.Fprintf(w, "dimension:         %d\n", s.Dimension)
	}
	if s.Path != "" {
		fmt.Fprintf(w, "path:              %s\n", s.Path)
	}
	if s.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:  %d\n", s.DiskUsageBytes)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error:             %s\n", s.Error)
	}
	return nil
}

// WriteHistory writes answer records, newest first, with answers shortened to one line.
func WriteHistory(w io.Writer, records []*models.AnswerRecord, format OutputFormat) error {
	if format == OutputJSON {
		if records == nil {
			records = []*models.AnswerRecord{}
		}
		return writeJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No history yet")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s  [%s]\n", rec.Timestamp.Local().Format("2006-01-02 15:04:05"), rec.BackendUsed)
		fmt.Fprintf(w, "Q: %s\n", rec.Query)
		fmt.Fprintf(w, "A: %s\n", TruncateWords(strings.Join(strings.Fields(rec.Answer), " "), 30))
		if srcs := rec.Sources.Sources(); len(srcs) > 0 {
			fmt.Fprintf(w, "Sources: %s\n", strings.Join(srcs, ", "))
		}
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
