// Package ingest converts stored files into ordered, metadata-enriched text
// chunks: extraction by file type, structural refinement, and size-based
// chunking. Nothing here talks to the database; the pipeline package wires
// the output into storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/atlaslearn/atlas/internal/settings"
)

// ErrUnsupportedFileType indicates a filename whose extension is outside
// the supported set. Uploads are rejected with this error before any
// document row or background job exists.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// FileType is the detected document category.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeDocx  FileType = "docx"
	FileTypePptx  FileType = "pptx"
	FileTypeImage FileType = "image"
)

// extensionTypes maps accepted filename extensions onto file types.
// Legacy .doc/.ppt are accepted as aliases of their XML successors.
var extensionTypes = map[string]FileType{
	".pdf":  FileTypePDF,
	".docx": FileTypeDocx,
	".doc":  FileTypeDocx,
	".pptx": FileTypePptx,
	".ppt":  FileTypePptx,
	".jpg":  FileTypeImage,
	".jpeg": FileTypeImage,
	".png":  FileTypeImage,
	".webp": FileTypeImage,
}

// DetectFileType maps a filename onto its FileType, or returns
// ErrUnsupportedFileType naming the offending extension.
func DetectFileType(filename string) (FileType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ft, ok := extensionTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	return ft, nil
}

// Page is one page-like block of extracted text, 1-indexed.
type Page struct {
	Text   string
	Number int
}

// VisionDescriber produces a text description of an image through a
// vision-capable model. Implemented by Vision; mocked in tests.
type VisionDescriber interface {
	Describe(ctx context.Context, cfg settings.Resolved, imageBase64 string) (string, error)
}

// Extractor converts stored files into ordered pages of text.
type Extractor struct {
	vision VisionDescriber
	logger *slog.Logger
}

// NewExtractor creates an Extractor. vision handles image documents;
// logger may be nil.
func NewExtractor(vision VisionDescriber, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{vision: vision, logger: logger}
}

// Extract reads the file at path and returns its pages in order.
// Any error aborts the whole document; no partial page set is returned.
func (e *Extractor) Extract(ctx context.Context, path string, ft FileType, cfg settings.Resolved) ([]Page, error) {
	switch ft {
	case FileTypePDF:
		return extractPDF(path)
	case FileTypeDocx:
		return extractDocx(path)
	case FileTypePptx:
		return extractPptx(path)
	case FileTypeImage:
		return e.extractImage(ctx, path, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ft)
	}
}
