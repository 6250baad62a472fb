package source

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	pptxSlidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	atTag         = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odpPage       = regexp.MustCompile(`(?s)<draw:page[ >].*?</draw:page>`)
)

// slidePages returns one page per slide in slide number order.
func slidePages(content []byte) ([]string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlidePath.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		slides = append(slides, slide{n: n, text: joinMatches(atTag.FindAllStringSubmatch(string(data), -1))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = s.text
	}
	return pages, nil
}

// odpPages returns one page per draw:page of an OpenDocument presentation.
func odpPages(content []byte) ([]string, error) {
	s, err := odfContent(content, "ODP")
	if err != nil {
		return nil, err
	}
	drawn := odpPage.FindAllString(s, -1)
	if len(drawn) == 0 {
		return []string{strings.TrimSpace(odfText(s))}, nil
	}
	pages := make([]string, len(drawn))
	for i, d := range drawn {
		pages[i] = odfText(d)
	}
	return pages, nil
}
