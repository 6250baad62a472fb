package source

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheetPages returns one page per worksheet, rows on lines and cells separated by tabs.
func sheetPages(content []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var pages []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		pages = append(pages, strings.TrimSpace(buf.String()))
	}
	return pages, nil
}

const odfContentPath = "content.xml"

var (
	odsTable = regexp.MustCompile(`(?s)<table:table[ >].*?</table:table>`)
	odfTextP = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfSpan  = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

// odfText joins the text of paragraph, span and heading elements of an OpenDocument fragment.
func odfText(fragment string) string {
	var parts []string
	for _, re := range []*regexp.Regexp{odfTextP, odfSpan, odfTextH} {
		if t := joinMatches(re.FindAllStringSubmatch(fragment, -1)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func odfContent(content []byte, format string) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	return string(data), nil
}

// odsPages returns one page per table of an OpenDocument spreadsheet.
func odsPages(content []byte) ([]string, error) {
	s, err := odfContent(content, "ODS")
	if err != nil {
		return nil, err
	}
	tables := odsTable.FindAllString(s, -1)
	if len(tables) == 0 {
		return []string{odfText(s)}, nil
	}
	pages := make([]string, len(tables))
	for i, t := range tables {
		pages[i] = odfText(t)
	}
	return pages, nil
}
