package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Timeout      time.Duration
	HTTPClient   *http.Client // Optional (tests)
}

// OpenRouterClient implements CompletionClient using the OpenRouter HTTP API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	maxTokens    int
	client       *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4.1-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		client:       client,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Complete sends a chat completion request.
func (c *OpenRouterClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	model := modelOr(settings, c.defaultModel)

	orReq := openRouterRequest{
		Model:     model,
		Messages:  make([]openRouterMessage, 0, len(messages)),
		MaxTokens: maxTokensOr(settings, c.maxTokens),
	}
	if settings.Temperature != nil {
		orReq.Temperature = settings.Temperature
	}
	if settings.ReasoningEffort != "" {
		orReq.Reasoning = &openRouterReasoning{Effort: settings.ReasoningEffort}
	}

	// OpenRouter may route anthropic/* models to backends that reject native
	// structured outputs. Those get the schema in the prompt instead.
	rf, err := adaptedResponseFormat(model, format)
	if err != nil {
		return nil, err
	}
	orReq.ResponseFormat = rf
	if rf == nil && format.Structured() {
		system, rest := splitSystem(messages)
		messages = append([]Message{{Role: RoleSystem, Content: withSchemaInstruction(system, format)}}, rest...)
	}

	for _, m := range messages {
		orReq.Messages = append(orReq.Messages, openRouterMessage{Role: m.Role, Content: m.Content})
	}

	orResp, err := c.doRequest(ctx, "/chat/completions", &orReq)
	if err != nil {
		return nil, err
	}
	if len(orResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response (model=%s, id=%s)", orResp.Model, orResp.ID)
	}

	content := ""
	if orResp.Choices[0].Message.Content != nil {
		switch v := orResp.Choices[0].Message.Content.(type) {
		case string:
			content = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal content: %w", err)
			}
			content = string(b)
		}
	}

	modelUsed := orResp.Model
	if modelUsed == "" {
		modelUsed = model
	}
	return &Completion{
		Content: content,
		Usage: Usage{
			PromptTokens:     orResp.Usage.PromptTokens,
			CompletionTokens: orResp.Usage.CompletionTokens,
			TotalTokens:      orResp.Usage.TotalTokens,
		},
		Model:    modelUsed,
		Provider: OpenRouterName,
	}, nil
}

// adaptedResponseFormat returns the OpenRouter response_format for a request,
// or nil when the model should be prompted for JSON instead.
func adaptedResponseFormat(model string, format ResponseFormat) (*openRouterResponseFormat, error) {
	if !format.Structured() || isAnthropicModel(model) {
		return nil, nil
	}
	schema, err := CoreSchema(format.Schema)
	if err != nil {
		return nil, err
	}
	name := format.Name
	if name == "" {
		name = "response"
	}
	wrapped, err := json.Marshal(map[string]any{
		"name":   name,
		"strict": format.Strict,
		"schema": json.RawMessage(schema),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response format: %w", err)
	}
	return &openRouterResponseFormat{
		Type:       string(FormatJSONSchema),
		JSONSchema: wrapped,
	}, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

var _ CompletionClient = (*OpenRouterClient)(nil)
