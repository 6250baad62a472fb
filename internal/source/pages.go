package source

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ReadPages reads the file at path and returns the text of each page.
// PDF pages, spreadsheet sheets and presentation slides are pages; word processing
// documents are one page; plain text is split on form feeds.
func ReadPages(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return PagesFromBytes(content, strings.ToLower(filepath.Ext(path)))
}

// PagesFromBytes splits content by the format named by ext, which includes the leading dot.
// Unknown extensions are read as plain text.
func PagesFromBytes(content []byte, ext string) ([]string, error) {
	switch ext {
	case ".pdf":
		return pdfPages(content)
	case ".docx":
		text, err := docxText(content)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	case ".xlsx":
		return sheetPages(content)
	case ".ods":
		return odsPages(content)
	case ".pptx":
		return slidePages(content)
	case ".odp":
		return odpPages(content)
	default:
		return plainPages(content), nil
	}
}

// plainPages splits on form feeds. Invalid UTF-8 sequences are replaced with the replacement character.
func plainPages(content []byte) []string {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return strings.Split(s, "\f")
}

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// readZipEntry returns the named entry, or nil when it is missing.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, nil
}

// joinMatches joins the first submatch of every match, trimmed and separated by spaces.
func joinMatches(parts [][]string) string {
	var b strings.Builder
	for _, p := range parts {
		t := strings.TrimSpace(p[1])
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}
