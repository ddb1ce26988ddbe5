package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaModel is used when no local embedding model is configured.
const DefaultOllamaModel = "nomic-embed-text"

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaEmbedder generates embeddings through a local Ollama runtime.
//
// The output width is not known statically: it is probed once from the
// loaded model (see Probe) and cached. The device preference is applied on
// the first attempt; a failed GPU-preferring load falls back to the
// runtime's default load.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	device     string
	dim        int
	httpClient *http.Client
}

// NewOllamaEmbedder creates a local embedder. device is "cpu" or a GPU
// preference ("cuda", "auto"); baseURL defaults to the local runtime.
func NewOllamaEmbedder(baseURL, model, device string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}

	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		device:  device,
		// Local models can be slow on first load (weights paging in).
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns the model identifier.
func (e *OllamaEmbedder) Name() string { return e.model }

// Dimensions returns the probed vector width, or 0 before Probe succeeds.
func (e *OllamaEmbedder) Dimensions() int { return e.dim }

// Probe determines the model's output width empirically by embedding a
// short probe text. It tries a device-preferring load first and falls back
// to the runtime default, so a missing GPU does not fail resolution.
func (e *OllamaEmbedder) Probe(ctx context.Context) (int, error) {
	if e.dim > 0 {
		return e.dim, nil
	}

	vectors, err := e.embedBatch(ctx, []string{"dimension probe"}, e.deviceOptions())
	if err != nil && e.deviceOptions() != nil {
		vectors, err = e.embedBatch(ctx, []string{"dimension probe"}, nil)
	}
	if err != nil {
		return 0, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("%w: model %q returned an empty probe vector", ErrBackendUnavailable, e.model)
	}

	e.dim = len(vectors[0])
	return e.dim, nil
}

// Embed generates one embedding per input text in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedBatch(ctx, texts, e.deviceOptions())
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("local runtime returned %d vectors, expected %d", len(vectors), len(texts))
	}

	return vectors, nil
}

// deviceOptions maps the configured device preference onto Ollama request
// options. nil means "let the runtime decide".
func (e *OllamaEmbedder) deviceOptions() map[string]any {
	if e.device == "cpu" {
		return map[string]any{"num_gpu": 0}
	}
	return nil
}

type ollamaEmbedRequest struct {
	Model   string         `json:"model"`
	Input   []string       `json:"input"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string, options map[string]any) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{
		Model:   e.model,
		Input:   texts,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: local runtime at %s is unreachable: %v",
			ErrBackendUnavailable, e.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// A 404 usually means the model has not finished pulling; other
		// statuses point at an incompatible or broken runtime.
		if resp.StatusCode == http.StatusNotFound || strings.Contains(string(respBody), "not found") {
			return nil, fmt.Errorf("%w: model %q not found, it may still be downloading (run: ollama pull %s)",
				ErrBackendUnavailable, e.model, e.model)
		}
		return nil, fmt.Errorf("%w: local runtime returned status %d: %s",
			ErrBackendUnavailable, resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	return result.Embeddings, nil
}
