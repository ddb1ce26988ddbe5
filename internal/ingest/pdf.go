package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns one Page per physical PDF page.
func extractPDF(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	total := reader.NumPage()
	pages := make([]Page, 0, total)

	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting pdf page %d: %w", num, err)
		}

		pages = append(pages, Page{Text: text, Number: num})
	}

	return pages, nil
}
