package rag

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// FormatContext renders bundle as the generator's context string, one block per passage in
// bundle order, cut to maxChars runes when maxChars > 0.
func FormatContext(bundle models.Bundle, maxChars int) string {
	blocks := make([]string, 0, len(bundle))
	for _, p := range bundle {
		blocks = append(blocks, fmt.Sprintf("[Source: %s - Page %d]\n%s", p.SourceName, p.DisplayPage(), p.Text))
	}
	out := strings.Join(blocks, "\n\n")
	if maxChars > 0 {
		out = utils.TruncateRunes(out, maxChars)
	}
	return out
}
