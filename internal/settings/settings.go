// Package settings exposes the application and workspace configuration rows
// consumed by the ingestion and retrieval core.
//
// The rows are owned by the settings collaborator: this package only reads
// them. Components never fetch settings ad hoc; they receive a Resolved
// value computed once per operation so an in-flight job is not affected by
// a concurrent settings change.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWorkspaceNotFound indicates the requested workspace does not exist.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Provider identifiers for embedding and vision backends.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// AppSettings is the global configuration row.
type AppSettings struct {
	EmbeddingProvider      string
	EmbeddingModel         string
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	OpenAIModel            string
	OllamaBaseURL          string
	OllamaVisionModel      string
	EnableVisionProcessing bool
	VisionProvider         string
	LocalDevice            string
}

// Workspace is a tenant boundary. Optional fields override the global
// settings for every operation inside the workspace.
type Workspace struct {
	ID                uuid.UUID
	Name              string
	EmbeddingProvider *string
	EmbeddingModel    *string
	LLMProvider       *string
	LLMModel          *string
	CreatedAt         time.Time
}

// Resolved is the effective configuration for one operation, computed by
// merging workspace overrides over the global settings. It is a plain value:
// compute once, pass explicitly.
type Resolved struct {
	EmbeddingProvider string
	EmbeddingModel    string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string
	LocalDevice   string

	VisionEnabled  bool
	VisionProvider string
	VisionModel    string
}

// Resolve merges workspace overrides over the global settings.
// ws may be nil, in which case the global settings apply unchanged.
func Resolve(global AppSettings, ws *Workspace) Resolved {
	r := Resolved{
		EmbeddingProvider: global.EmbeddingProvider,
		EmbeddingModel:    global.EmbeddingModel,
		OpenAIAPIKey:      global.OpenAIAPIKey,
		OpenAIBaseURL:     global.OpenAIBaseURL,
		OllamaBaseURL:     global.OllamaBaseURL,
		LocalDevice:       global.LocalDevice,
		VisionEnabled:     global.EnableVisionProcessing,
		VisionProvider:    global.VisionProvider,
	}

	switch r.VisionProvider {
	case ProviderOllama:
		r.VisionModel = global.OllamaVisionModel
	default:
		r.VisionModel = global.OpenAIModel
	}

	if ws != nil {
		if ws.EmbeddingProvider != nil && *ws.EmbeddingProvider != "" {
			r.EmbeddingProvider = *ws.EmbeddingProvider
		}
		if ws.EmbeddingModel != nil && *ws.EmbeddingModel != "" {
			r.EmbeddingModel = *ws.EmbeddingModel
		}
		// A workspace pinned to a specific hosted LLM also steers the
		// vision model used for its image documents.
		if r.VisionProvider == ProviderOpenAI &&
			ws.LLMProvider != nil && *ws.LLMProvider == ProviderOpenAI &&
			ws.LLMModel != nil && *ws.LLMModel != "" {
			r.VisionModel = *ws.LLMModel
		}
	}

	return r
}

// Store reads settings and workspace rows from PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a settings reader over the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// AppSettings loads the global settings row.
func (s *Store) AppSettings(ctx context.Context) (AppSettings, error) {
	var out AppSettings
	var provider, model, apiKey, baseURL, openaiModel *string
	var ollamaBase, ollamaVision, visionProv, localDevice *string

	err := s.db.QueryRow(ctx, `
		SELECT embedding_provider, embedding_model, openai_api_key,
		       openai_base_url, openai_model, ollama_base_url,
		       ollama_vision_model, enable_vision_processing,
		       vision_provider, local_device
		FROM app_settings WHERE id = 1`).Scan(
		&provider, &model, &apiKey, &baseURL, &openaiModel,
		&ollamaBase, &ollamaVision, &out.EnableVisionProcessing,
		&visionProv, &localDevice,
	)
	if err != nil {
		return AppSettings{}, fmt.Errorf("loading app settings: %w", err)
	}

	out.EmbeddingProvider = deref(provider)
	out.EmbeddingModel = deref(model)
	out.OpenAIAPIKey = deref(apiKey)
	out.OpenAIBaseURL = deref(baseURL)
	out.OpenAIModel = deref(openaiModel)
	out.OllamaBaseURL = deref(ollamaBase)
	out.OllamaVisionModel = deref(ollamaVision)
	out.VisionProvider = deref(visionProv)
	out.LocalDevice = deref(localDevice)

	return out, nil
}

// Workspace loads one workspace row by ID.
func (s *Store) Workspace(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	ws := &Workspace{}
	err := s.db.QueryRow(ctx, `
		SELECT id, name, embedding_provider, embedding_model,
		       llm_provider, llm_model, created_at
		FROM workspaces WHERE id = $1`, id).Scan(
		&ws.ID, &ws.Name, &ws.EmbeddingProvider, &ws.EmbeddingModel,
		&ws.LLMProvider, &ws.LLMModel, &ws.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workspace %s: %w", id, err)
	}
	return ws, nil
}

// ResolveForWorkspace loads the global settings and the workspace row (when
// id is non-nil) and returns the merged configuration.
func (s *Store) ResolveForWorkspace(ctx context.Context, id *uuid.UUID) (Resolved, error) {
	global, err := s.AppSettings(ctx)
	if err != nil {
		return Resolved{}, err
	}

	var ws *Workspace
	if id != nil {
		ws, err = s.Workspace(ctx, *id)
		if err != nil {
			return Resolved{}, err
		}
	}

	return Resolve(global, ws), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
