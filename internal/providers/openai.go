package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName         = "openai"
	AzureName          = "azure"
	openAIDefaultModel = "gpt-4.1-mini"
	azureAPIVersion    = "2024-10-21"
)

// OpenAIConfig holds configuration for the OpenAI and Azure OpenAI clients.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string        // Optional (tests, proxies); Azure endpoint for azure
	APIVersion string        // Azure only
	MaxTokens  int           // Default completion budget
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements CompletionClient using the official OpenAI SDK.
// The same client serves Azure deployments, where the model is the deployment name.
type OpenAIClient struct {
	name      string
	model     string
	maxTokens int
	client    openai.Client
}

// NewOpenAIClient creates a client for api.openai.com or a compatible base URL.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		// Retries are owned by RetryingClient.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		name:      OpenAIName,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    openai.NewClient(opts...),
	}
}

// NewAzureClient creates a client for an Azure OpenAI deployment.
func NewAzureClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("azure endpoint (base_url) is required")
	}
	cfg = cfg.withDefaults()
	if cfg.APIVersion == "" {
		cfg.APIVersion = azureAPIVersion
	}
	client := openai.NewClient(
		azure.WithEndpoint(cfg.BaseURL, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	)
	return &OpenAIClient{
		name:      AzureName,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}, nil
}

func (cfg OpenAIConfig) withDefaults() OpenAIConfig {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return cfg
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	model := modelOr(settings, c.model)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if settings.Temperature != nil {
		params.Temperature = openai.Float(*settings.Temperature)
	}
	if n := maxTokensOr(settings, c.maxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}
	if settings.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(settings.ReasoningEffort)
	}
	if format.Structured() {
		schema, err := decodeSchema(format.Schema)
		if err != nil {
			return nil, err
		}
		name := format.Name
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: openai.Bool(format.Strict),
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion failed: %w", c.name, mapOpenAIChatError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices (model=%s)", c.name, resp.Model)
	}

	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Model:    resp.Model,
		Provider: c.name,
	}, nil
}

func mapOpenAIChatError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Code == "rate_limit_exceeded" {
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &RateLimitError{
			Message:    apiErr.Message,
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	return err
}

var _ CompletionClient = (*OpenAIClient)(nil)
