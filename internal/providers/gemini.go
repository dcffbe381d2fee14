package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const (
	GeminiName         = "gemini"
	geminiDefaultModel = "gemini-2.5-flash"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiClient implements CompletionClient using the Google GenAI SDK.
type GeminiClient struct {
	model     string
	maxTokens int
	client    *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}, nil
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Complete sends a GenerateContent request.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	model := modelOr(settings, c.model)
	system, rest := splitSystem(messages)
	system = withSchemaInstruction(system, format)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if settings.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*settings.Temperature))
	}
	if n := maxTokensOr(settings, c.maxTokens); n > 0 {
		config.MaxOutputTokens = int32(n)
	}
	if format.Structured() {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if looksRateLimited(err.Error()) {
			return nil, &RateLimitError{
				Message:    err.Error(),
				StatusCode: http.StatusTooManyRequests,
				Err:        err,
			}
		}
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}

	out := &Completion{
		Content:  resp.Text(),
		Model:    model,
		Provider: GeminiName,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	return out, nil
}

var _ CompletionClient = (*GeminiClient)(nil)
