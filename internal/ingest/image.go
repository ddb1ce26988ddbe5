package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/atlaslearn/atlas/internal/settings"
)

// ErrVisionDisabled indicates image ingestion was attempted while vision
// processing is switched off in settings.
var ErrVisionDisabled = errors.New("image processing is disabled in settings; " +
	"enable vision processing in settings or upload a PDF/Word/PPT instead")

// visionPrompt is the fixed instruction sent with every image.
const visionPrompt = "Describe this image in extreme detail for an educational " +
	"RAG system. Extract all text, explain diagrams, and summarize key concepts shown."

// extractImage sends the image to a vision-capable model and returns the
// generated description as a single synthetic page. It fails fast when
// vision processing is disabled or no capable backend is configured.
func (e *Extractor) extractImage(ctx context.Context, path string, cfg settings.Resolved) ([]Page, error) {
	if !cfg.VisionEnabled {
		return nil, ErrVisionDisabled
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	description, err := e.vision.Describe(ctx, cfg, encoded)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("described image via vision model",
		"provider", cfg.VisionProvider, "model", cfg.VisionModel,
		"description_length", len(description))

	return []Page{{Text: description, Number: 1}}, nil
}
