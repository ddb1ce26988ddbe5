package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDocx pulls paragraph text out of word/document.xml. Word files
// have no native page concept, so the whole document is one page.
func extractDocx(path string) ([]Page, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening docx archive: %w", err)
	}
	defer func() {
		_ = archive.Close()
	}()

	var doc *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}

	r, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("opening word/document.xml: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	text, err := collectRunText(r, "p", "t")
	if err != nil {
		return nil, fmt.Errorf("parsing word/document.xml: %w", err)
	}

	return []Page{{Text: text, Number: 1}}, nil
}

// collectRunText streams an OOXML part, concatenating the character data of
// every <ns:textEl> run and inserting a newline at the end of each
// <ns:paraEl> paragraph. Namespace prefixes are ignored; OOXML parts use a
// single drawing/wordprocessing namespace per element family.
func collectRunText(r io.Reader, paraEl, textEl string) (string, error) {
	decoder := xml.NewDecoder(r)

	var sb strings.Builder
	inText := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textEl {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textEl:
				inText = false
			case paraEl:
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
