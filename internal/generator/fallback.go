package generator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Extractive answer limits.
const (
	minSentenceRunes = 50
	scoringPool      = 30
	maxPicked        = 4
	unscoredPicked   = 3
	rawContextRunes  = 500
	minQueryWordLen  = 4
)

// FallbackModelName labels the extractive backend in status reports.
const FallbackModelName = "Context Extractor (fallback)"

const (
	noContextMessage = "No context available."
	defaultReason    = "API key not configured"
)

// Extractive builds an answer from the context sentences that share the most words with
// the query. It is deterministic and always returns a non-empty string ending with a
// notice that fallback mode is active and why.
func Extractive(query, context, lastError string) string {
	return extractive(query, context, lastError, config.DefaultAPIKeyEnv)
}

func extractive(query, context, lastError, keyEnv string) string {
	sentences := candidateSentences(context)

	var chosen []string
	if picked := pickSentences(query, sentences); len(picked) > 0 {
		chosen = picked
	} else if len(sentences) > 0 {
		chosen = sentences[:min(unscoredPicked, len(sentences))]
	}

	body := strings.Join(chosen, " ")
	if body == "" {
		if strings.TrimSpace(context) != "" {
			body = utils.TruncateRunes(context, rawContextRunes)
		} else {
			body = noContextMessage
		}
	}
	return body + fallbackNotice(lastError, keyEnv)
}

func fallbackNotice(lastError, keyEnv string) string {
	reason := strings.TrimSpace(lastError)
	if reason == "" {
		reason = defaultReason
	}
	if keyEnv == "" {
		keyEnv = config.DefaultAPIKeyEnv
	}
	return fmt.Sprintf("\n\n---\n**Fallback mode active**  \nSet `%s` in `.env` to enable generated answers.\nError: %s", keyEnv, reason)
}

// candidateSentences splits context into lines longer than minSentenceRunes, then splits
// those on ". " and keeps the long fragments, each ending with a period.
func candidateSentences(context string) []string {
	var out []string
	for _, line := range strings.Split(context, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= minSentenceRunes {
			continue
		}
		for _, frag := range strings.Split(line, ". ") {
			frag = strings.TrimSpace(frag)
			if utf8.RuneCountInString(frag) <= minSentenceRunes {
				continue
			}
			if !strings.HasSuffix(frag, ".") {
				frag += "."
			}
			out = append(out, frag)
		}
	}
	return out
}

// queryWords returns the distinct lowercase query words of at least minQueryWordLen runes.
func queryWords(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(w) < minQueryWordLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// pickSentences scores the first scoringPool sentences by query word substring hits and
// returns up to maxPicked of those scoring above zero. Ties keep context order.
func pickSentences(query string, sentences []string) []string {
	words := queryWords(query)
	if len(words) == 0 {
		return nil
	}
	pool := sentences[:min(scoringPool, len(sentences))]

	type scored struct {
		text  string
		score int
	}
	var hits []scored
	for _, s := range pool {
		lower := strings.ToLower(s)
		n := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{text: s, score: n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]string, 0, min(maxPicked, len(hits)))
	for _, h := range hits[:min(maxPicked, len(hits))] {
		out = append(out, h.text)
	}
	return out
}
