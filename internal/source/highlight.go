package source

import (
	"strings"

	"github.com/hyperjump/kotae/pkg/utils"
)

// Highlight marks where a passage occurs in page text. Offset and Length are in bytes.
type Highlight struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

const (
	highlightPrefixRunes = 100
	maxHighlights        = 3
)

// Highlights finds up to three non-overlapping occurrences of the first 100 characters of
// passage in page. Matching ignores case.
func Highlights(page, passage string) []Highlight {
	needle := strings.ToLower(utils.TruncateRunes(strings.TrimSpace(passage), highlightPrefixRunes))
	if needle == "" {
		return nil
	}
	hay := strings.ToLower(page)
	if len(hay) != len(page) {
		// case folding changed byte lengths; offsets would not map back
		hay = page
		needle = utils.TruncateRunes(strings.TrimSpace(passage), highlightPrefixRunes)
	}

	var out []Highlight
	from := 0
	for len(out) < maxHighlights {
		i := strings.Index(hay[from:], needle)
		if i < 0 {
			break
		}
		out = append(out, Highlight{Offset: from + i, Length: len(needle)})
		from += i + len(needle)
	}
	return out
}
