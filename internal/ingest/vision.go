package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atlaslearn/atlas/internal/settings"
)

// ErrVisionNotConfigured indicates the selected vision provider is missing
// a credential or model.
var ErrVisionNotConfigured = errors.New("vision backend not configured")

// Vision is the default VisionDescriber, talking to either the hosted
// OpenAI-compatible API or a local Ollama runtime depending on settings.
type Vision struct {
	httpClient *http.Client
}

// NewVision creates the default vision client.
func NewVision() *Vision {
	return &Vision{
		// Vision models can be slow, especially local ones.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Describe sends the base64-encoded image to the configured vision model
// with the fixed transcription instruction.
func (v *Vision) Describe(ctx context.Context, cfg settings.Resolved, imageBase64 string) (string, error) {
	if cfg.VisionProvider == settings.ProviderOllama {
		return v.describeOllama(ctx, cfg, imageBase64)
	}
	return v.describeOpenAI(ctx, cfg, imageBase64)
}

func (v *Vision) describeOpenAI(ctx context.Context, cfg settings.Resolved, imageBase64 string) (string, error) {
	if cfg.OpenAIAPIKey == "" {
		return "", fmt.Errorf("%w: image processing requires the hosted vision API "+
			"but no API key is configured; add a key in settings, switch to the "+
			"local vision provider, or upload a PDF/Word/PPT instead", ErrVisionNotConfigured)
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     cfg.VisionModel,
		MaxTokens: 1500,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + imageBase64,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision request to model %q failed: %w", cfg.VisionModel, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("vision model %q returned an empty description", cfg.VisionModel)
	}

	return resp.Choices[0].Message.Content, nil
}

type ollamaVisionRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaVisionResponse struct {
	Response string `json:"response"`
}

func (v *Vision) describeOllama(ctx context.Context, cfg settings.Resolved, imageBase64 string) (string, error) {
	baseURL := cfg.OllamaBaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.VisionModel
	if model == "" {
		model = "llava"
	}

	body, err := json.Marshal(ollamaVisionRequest{
		Model:  model,
		Prompt: visionPrompt,
		Images: []string{imageBase64},
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("local vision processing failed: %w; make sure %q is installed (run: ollama pull %s)",
			err, model, model)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("local vision runtime returned status %d: %s; make sure %q is installed (run: ollama pull %s)",
			resp.StatusCode, string(respBody), model, model)
	}

	var result ollamaVisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}

	if result.Response == "" {
		return "", fmt.Errorf("local vision model %q returned an empty response", model)
	}

	return result.Response, nil
}
