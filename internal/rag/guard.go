// Package rag serves workspace-scoped semantic retrieval: query embedding,
// dimension-aware nearest-neighbor search, and the compatibility guard that
// keeps vectors from different models out of one ranked result set.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/embed"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
)

// ErrWorkspaceEmpty indicates retrieval over a workspace with no documents.
var ErrWorkspaceEmpty = errors.New("workspace has no documents; upload a document first")

// ErrDocumentsNotReady indicates the workspace has documents but none has
// finished processing yet.
var ErrDocumentsNotReady = errors.New("no documents have finished processing yet; wait for processing to complete or check for failed documents")

// MismatchError reports completed documents whose stored vectors were
// produced by a different model than the workspace's current configuration.
// Vectors from different models are not distance-comparable, so retrieval
// refuses to run until the documents are reprocessed.
type MismatchError struct {
	Provider  string
	Model     string
	Documents []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf(
		"documents %s were embedded with a different model than the current setting (%s/%s); reprocess them before asking questions",
		strings.Join(e.Documents, ", "), e.Provider, e.Model)
}

// DocumentReader is the slice of the document repository the guard needs.
type DocumentReader interface {
	CountByStatus(ctx context.Context, workspaceID uuid.UUID) (map[store.Status]int, error)
	CompletedProviders(ctx context.Context, workspaceID uuid.UUID) (map[string][]string, error)
}

// SettingsSource yields the merged configuration for a workspace.
type SettingsSource interface {
	ResolveForWorkspace(ctx context.Context, id *uuid.UUID) (settings.Resolved, error)
}

// Guard checks that a workspace is ready for retrieval. Generation
// collaborators call CheckReady before building prompts from search results.
type Guard struct {
	documents DocumentReader
	settings  SettingsSource
}

// NewGuard wires a Guard.
func NewGuard(documents DocumentReader, settings SettingsSource) *Guard {
	return &Guard{documents: documents, settings: settings}
}

// CheckReady verifies the workspace has documents, at least one completed
// document, and no completed document embedded under a different
// provider/model than the current configuration. It performs no embedding
// calls.
func (g *Guard) CheckReady(ctx context.Context, workspaceID uuid.UUID) error {
	cfg, err := g.settings.ResolveForWorkspace(ctx, &workspaceID)
	if err != nil {
		return err
	}
	return g.check(ctx, workspaceID, cfg)
}

func (g *Guard) check(ctx context.Context, workspaceID uuid.UUID, cfg settings.Resolved) error {
	counts, err := g.documents.CountByStatus(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("checking workspace %s readiness: %w", workspaceID, err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return ErrWorkspaceEmpty
	}
	if counts[store.StatusCompleted] == 0 {
		return ErrDocumentsNotReady
	}

	provider, model := effectiveModel(cfg)

	recorded, err := g.documents.CompletedProviders(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("checking workspace %s embeddings: %w", workspaceID, err)
	}

	currentKey := provider + "/" + model
	var stale []string
	for key, titles := range recorded {
		if key != currentKey {
			stale = append(stale, titles...)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		return &MismatchError{Provider: provider, Model: model, Documents: stale}
	}

	return nil
}

// effectiveModel applies the same model defaulting the embedders use, so
// the comparison matches what a fresh embedding run would record.
func effectiveModel(cfg settings.Resolved) (provider, model string) {
	provider = cfg.EmbeddingProvider
	model = cfg.EmbeddingModel
	if model == "" {
		switch provider {
		case settings.ProviderOllama:
			model = embed.DefaultOllamaModel
		default:
			model = embed.DefaultOpenAIModel
		}
	}
	return provider, model
}
