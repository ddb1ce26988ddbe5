package ingest

import (
	"archive/zip"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractPptx returns one Page per slide, concatenating the text of all
// text-bearing shapes in document order. Slides are ordered by their part
// number, which matches presentation order.
func extractPptx(path string) ([]Page, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening pptx archive: %w", err)
	}
	defer func() {
		_ = archive.Close()
	}()

	type slidePart struct {
		num  int
		file *zip.File
	}

	var slides []slidePart
	for _, f := range archive.File {
		m := slidePartRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slidePart{num: num, file: f})
	}

	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx archive has no slides")
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]Page, 0, len(slides))
	for i, s := range slides {
		r, err := s.file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening slide %d: %w", s.num, err)
		}

		text, err := collectRunText(r, "p", "t")
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing slide %d: %w", s.num, err)
		}

		pages = append(pages, Page{Text: text, Number: i + 1})
	}

	return pages, nil
}
