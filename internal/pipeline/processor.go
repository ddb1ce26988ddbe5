// Package pipeline turns uploaded documents into embedded chunks. The
// Processor runs the per-document state machine; the Dispatcher fans
// documents out to a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/embed"
	"github.com/atlaslearn/atlas/internal/ingest"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
)

// EmbedBatchSize bounds how many chunk texts go to the backend per call,
// which also bounds blocking time and memory per document.
const EmbedBatchSize = 64

// DocumentStore is the slice of the document repository the processor needs.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*store.Document, error)
	Claim(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// ChunkWriter persists a document's chunks and completion atomically.
type ChunkWriter interface {
	InsertCompleted(ctx context.Context, documentID, workspaceID uuid.UUID,
		provider, model string, dim int, chunks []store.Chunk) error
}

// SettingsSource yields the merged configuration for a workspace.
type SettingsSource interface {
	ResolveForWorkspace(ctx context.Context, id *uuid.UUID) (settings.Resolved, error)
}

// EmbedderResolver selects the embedding backend for a configuration.
type EmbedderResolver interface {
	Resolve(ctx context.Context, cfg settings.Resolved) (*embed.Resolution, error)
}

// PageExtractor converts a stored file into ordered pages of text.
type PageExtractor interface {
	Extract(ctx context.Context, path string, ft ingest.FileType, cfg settings.Resolved) ([]ingest.Page, error)
}

// Processor runs one document through extract, refine, chunk, embed, and
// persist. Every failure lands on the document as a verbatim error message;
// Process never panics across its boundary.
type Processor struct {
	documents DocumentStore
	chunks    ChunkWriter
	settings  SettingsSource
	resolver  EmbedderResolver
	extractor PageExtractor
	logger    *slog.Logger
}

// NewProcessor wires a Processor. logger may be nil.
func NewProcessor(documents DocumentStore, chunks ChunkWriter, settings SettingsSource,
	resolver EmbedderResolver, extractor PageExtractor, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		documents: documents,
		chunks:    chunks,
		settings:  settings,
		resolver:  resolver,
		extractor: extractor,
		logger:    logger,
	}
}

// Process claims the document and drives it to a terminal state. The claim
// is exclusive, so a document already processing (or finished) is left
// alone and the claim error is returned to the caller. After a successful
// claim the document always ends completed or failed; pipeline errors are
// recorded on the document, not returned.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) error {
	if err := p.documents.Claim(ctx, documentID); err != nil {
		return err
	}

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	log := p.logger.With("document_id", documentID, "title", doc.Title)
	log.Info("processing document", "file_type", doc.FileType)

	count, err := p.run(ctx, doc)
	if err != nil {
		log.Warn("document processing failed", "error", err)
		return p.fail(ctx, documentID, err)
	}

	log.Info("document completed", "chunks", count)
	return nil
}

// fail records the error message verbatim so the UI can show it unchanged.
// The worker context may already be canceled when a shutdown aborts the
// pipeline mid-document; the terminal state must still reach the store or
// the document is stuck in processing.
func (p *Processor) fail(ctx context.Context, documentID uuid.UUID, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := p.documents.MarkFailed(ctx, documentID, cause.Error()); err != nil {
		p.logger.Error("recording document failure", "document_id", documentID, "error", err)
	}
	return nil
}

func (p *Processor) run(ctx context.Context, doc *store.Document) (int, error) {
	cfg, err := p.settings.ResolveForWorkspace(ctx, &doc.WorkspaceID)
	if err != nil {
		return 0, fmt.Errorf("resolving settings: %w", err)
	}

	res, err := p.resolver.Resolve(ctx, cfg)
	if err != nil {
		return 0, err
	}

	pages, err := p.extractor.Extract(ctx, doc.FilePath, ingest.FileType(doc.FileType), cfg)
	if err != nil {
		return 0, err
	}

	chunks := assembleChunks(doc.Title, pages)
	if err := embedChunks(ctx, res.Embedder, res.Dimension, chunks); err != nil {
		return 0, err
	}

	err = p.chunks.InsertCompleted(ctx, doc.ID, doc.WorkspaceID,
		res.Provider, res.Model, res.Dimension, chunks)
	if err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// assembleChunks refines and chunks every page, numbering chunks
// contiguously across pages. Each stored chunk's content carries a
// human-readable context prefix built from its heading path (or the
// document title) and page number.
func assembleChunks(title string, pages []ingest.Page) []store.Chunk {
	var out []store.Chunk
	for _, page := range pages {
		refined := ingest.PromoteStructuralMarkers(page.Text)
		for _, c := range ingest.ChunkMarkdown(refined) {
			meta := c.Metadata
			if meta == nil {
				meta = make(map[string]string)
			}
			meta["page"] = strconv.Itoa(page.Number)
			meta["source"] = title

			out = append(out, store.Chunk{
				Content:  contextPrefix(title, page.Number, c.Metadata) + c.Text,
				Index:    len(out),
				Metadata: meta,
			})
		}
	}
	return out
}

// contextPrefix renders "Context: <heading path> (Page N)" for a chunk,
// falling back to the document title when the chunk has no heading.
func contextPrefix(title string, page int, meta map[string]string) string {
	var path []string
	for level := 1; level <= 6; level++ {
		if h, ok := meta[fmt.Sprintf("Header %d", level)]; ok {
			path = append(path, h)
		}
	}

	location := title
	if len(path) > 0 {
		location = strings.Join(path, " > ")
	}
	return fmt.Sprintf("Context: %s (Page %d)\n\n", location, page)
}

// embedChunks fills in the Embedding field of every chunk, calling the
// backend in batches of EmbedBatchSize. Any backend error aborts the whole
// document.
func embedChunks(ctx context.Context, embedder embed.Embedder, dim int, chunks []store.Chunk) error {
	for start := 0; start < len(chunks); start += EmbedBatchSize {
		end := start + EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch starting at chunk %d: %w", start, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedding backend %s returned %d vectors for %d inputs",
				embedder.Name(), len(vectors), len(texts))
		}

		for i, vec := range vectors {
			if len(vec) != dim {
				return fmt.Errorf("embedding backend %s produced a %d-wide vector, expected %d",
					embedder.Name(), len(vec), dim)
			}
			chunks[start+i].Embedding = vec
		}
	}
	return nil
}
