package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// openaiModelDimensions maps known hosted model names to their output
// widths. Unrecognized models default to 1536, matching the API's own
// default embedding size.
var openaiModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// DefaultOpenAIModel is used when no embedding model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

const defaultOpenAIDimension = 1536

// OpenAIDimensions returns the vector width for a hosted model name.
func OpenAIDimensions(model string) int {
	if dim, ok := openaiModelDimensions[model]; ok {
		return dim
	}
	return defaultOpenAIDimension
}

// hostedRequestsPerSecond bounds outbound embedding calls so a large
// document cannot exhaust the API quota shared with vision extraction.
const hostedRequestsPerSecond = 5

// OpenAIEmbedder generates embeddings through an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dim     int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates a hosted embedder. baseURL is optional and
// overrides the default API endpoint for compatible gateways.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	if model == "" {
		model = DefaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		dim:     OpenAIDimensions(model),
		limiter: rate.NewLimiter(hostedRequestsPerSecond, 1),
	}
}

// Name returns the model identifier.
func (e *OpenAIEmbedder) Name() string { return e.model }

// Dimensions returns the model's output vector width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

// Embed generates one embedding per input text in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request for model %q failed: %v",
			ErrBackendUnavailable, e.model, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors, expected %d",
			len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}

	return out, nil
}
