package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/embed"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
)

// DefaultTopK is the result count used when the caller does not specify one.
const DefaultTopK = 8

// ChunkSearcher is the slice of the chunk store the retriever needs.
type ChunkSearcher interface {
	Search(ctx context.Context, workspaceID uuid.UUID, query []float32, dim, limit int) ([]store.SearchResult, error)
}

// EmbedderResolver selects the embedding backend for a configuration.
type EmbedderResolver interface {
	Resolve(ctx context.Context, cfg settings.Resolved) (*embed.Resolution, error)
}

// Retriever answers semantic queries over a workspace's completed
// documents. Every search resolves the workspace's current configuration,
// embeds the query with it, and scans only vectors of the matching width.
type Retriever struct {
	chunks   ChunkSearcher
	guard    *Guard
	settings SettingsSource
	resolver EmbedderResolver
	logger   *slog.Logger
}

// NewRetriever wires a Retriever. logger may be nil.
func NewRetriever(chunks ChunkSearcher, guard *Guard, settings SettingsSource,
	resolver EmbedderResolver, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		chunks:   chunks,
		guard:    guard,
		settings: settings,
		resolver: resolver,
		logger:   logger,
	}
}

// Search returns the k chunks closest to the query, ordered by ascending
// cosine distance. k <= 0 returns an empty result without touching the
// embedding backend. The readiness guard runs before any embedding call,
// so an empty or mismatched workspace fails fast.
func (r *Retriever) Search(ctx context.Context, query string, workspaceID uuid.UUID, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	cfg, err := r.settings.ResolveForWorkspace(ctx, &workspaceID)
	if err != nil {
		return nil, err
	}

	if err := r.guard.check(ctx, workspaceID, cfg); err != nil {
		return nil, err
	}

	res, err := r.resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	vectors, err := res.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding backend %s returned %d vectors for one query", res.Model, len(vectors))
	}

	results, err := r.chunks.Search(ctx, workspaceID, vectors[0], res.Dimension, k)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("semantic search",
		"workspace_id", workspaceID, "model", res.Model,
		"dimension", res.Dimension, "results", len(results))
	return results, nil
}

// GetRelevantContext runs Search and joins the chunk contents into one
// string for prompt construction.
func (r *Retriever) GetRelevantContext(ctx context.Context, query string, workspaceID uuid.UUID, k int) (string, error) {
	results, err := r.Search(ctx, query, workspaceID, k)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}
