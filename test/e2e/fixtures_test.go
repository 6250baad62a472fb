package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/source"
)

func TestDocumentBytes_PagesReadBack(t *testing.T) {
	pages := []string{"First page about dosing", "Second page about monitoring"}
	for _, ext := range []string{".txt", ".md", ".pptx", ".odp", ".ods", ".xlsx"} {
		t.Run(ext, func(t *testing.T) {
			content, err := DocumentBytes(ext, pages)
			if err != nil {
				t.Fatalf("DocumentBytes: %v", err)
			}
			got, err := source.PagesFromBytes(content, ext)
			if err != nil {
				t.Fatalf("PagesFromBytes: %v", err)
			}
			if len(got) != len(pages) {
				t.Fatalf("got %d pages, want %d: %q", len(got), len(pages), got)
			}
			for i := range pages {
				if !strings.Contains(got[i], pages[i]) {
					t.Errorf("page %d = %q, want %q", i, got[i], pages[i])
				}
			}
		})
	}

	content, err := DocumentBytes(".docx", pages)
	if err != nil {
		t.Fatal(err)
	}
	got, err := source.PagesFromBytes(content, ".docx")
	if err != nil || len(got) != 1 || !strings.Contains(got[0], pages[1]) {
		t.Errorf("docx pages = %q, %v", got, err)
	}
}
