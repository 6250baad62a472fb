package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// WriteDocuments writes a source document for every topic whose format can be generated
// (everything except PDF) into dir and returns the topics written.
func WriteDocuments(dir string, ts []Topic) ([]Topic, error) {
	var written []Topic
	for _, t := range ts {
		ext := strings.ToLower(filepath.Ext(t.Source))
		if ext == ".pdf" {
			continue
		}
		content, err := DocumentBytes(ext, t.Pages)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Source, err)
		}
		if err := os.WriteFile(filepath.Join(dir, t.Source), content, 0o644); err != nil {
			return nil, err
		}
		written = append(written, t)
	}
	return written, nil
}

// DocumentBytes returns a minimal document of the given extension with one page per entry.
// Word processing documents hold a single page, so all pages are joined into one.
func DocumentBytes(ext string, pages []string) ([]byte, error) {
	switch ext {
	case ".txt", ".md":
		return []byte(strings.Join(pages, "\f")), nil
	case ".docx":
		return zipped(map[string]string{
			"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
				strings.Join(pages, " ") + `</w:t></w:r></w:p></w:body></w:document>`,
		})
	case ".pptx":
		files := make(map[string]string, len(pages))
		for i, p := range pages {
			files[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = `<p:sld xmlns:p="a" xmlns:a="b"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
				p + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
		}
		return zipped(files)
	case ".odp":
		var b strings.Builder
		b.WriteString(`<office:document><office:body><office:presentation>`)
		for i, p := range pages {
			fmt.Fprintf(&b, `<draw:page draw:name="page%d"><draw:text-box><text:p>%s</text:p></draw:text-box></draw:page>`, i+1, p)
		}
		b.WriteString(`</office:presentation></office:body></office:document>`)
		return zipped(map[string]string{"content.xml": b.String()})
	case ".ods":
		var b strings.Builder
		b.WriteString(`<office:document><office:body><office:spreadsheet>`)
		for i, p := range pages {
			fmt.Fprintf(&b, `<table:table table:name="T%d"><table:table-row><table:table-cell><text:p>%s</text:p></table:table-cell></table:table-row></table:table>`, i+1, p)
		}
		b.WriteString(`</office:spreadsheet></office:body></office:document>`)
		return zipped(map[string]string{"content.xml": b.String()})
	case ".xlsx":
		return workbook(pages)
	default:
		return nil, fmt.Errorf("no fixture for %s", ext)
	}
}

func zipped(files map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func workbook(pages []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, p := range pages {
		sheet := "Sheet1"
		if i > 0 {
			sheet = fmt.Sprintf("Sheet%d", i+1)
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, err
			}
		}
		if err := f.SetCellValue(sheet, "A1", p); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
