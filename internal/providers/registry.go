package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config describes one configured completion provider.
type Config struct {
	Type              string        // openai, azure, openrouter, anthropic, gemini, mock
	Model             string
	APIKey            string // already resolved
	BaseURL           string
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxTokens         int
}

// New builds the client variant named by cfg.Type. The variant is chosen once
// here; callers only ever see CompletionClient.
func New(ctx context.Context, cfg Config) (CompletionClient, error) {
	var client CompletionClient
	switch cfg.Type {
	case OpenAIName:
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
	case AzureName:
		c, err := NewAzureClient(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
			MaxTokens:  cfg.MaxTokens,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case OpenRouterName:
		client = NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			Timeout:      cfg.Timeout,
		})
	case AnthropicName:
		client = NewAnthropicClient(AnthropicConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
	case GeminiName:
		c, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case MockName:
		client = NewMockClient(`{}`)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
	return WithRateLimit(client, cfg.RequestsPerSecond), nil
}

// Registry holds the configured clients by name, each already wrapped with the
// retry policy.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*RetryingClient
	models  map[string]string
	logger  *slog.Logger
}

// Middleware wraps a raw provider client before the retry policy is applied,
// so it sees every attempt.
type Middleware func(name string, client CompletionClient) CompletionClient

// NewRegistry builds every configured provider.
func NewRegistry(ctx context.Context, cfgs map[string]Config, retryCfg RetryConfig, logger *slog.Logger, wrap ...Middleware) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		clients: make(map[string]*RetryingClient, len(cfgs)),
		models:  make(map[string]string, len(cfgs)),
		logger:  logger,
	}
	for name, cfg := range cfgs {
		client, err := New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		for _, w := range wrap {
			client = w(name, client)
		}
		r.Register(name, cfg.Model, WithRetry(client, retryCfg, logger))
	}
	return r, nil
}

// Register adds or replaces a client.
func (r *Registry) Register(name, model string, client *RetryingClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.models[name] = model
	r.logger.Debug("registered completion client", "name", name, "type", client.Name())
}

// Get returns a client by name.
func (r *Registry) Get(name string) (*RetryingClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("completion client not found: %s", name)
	}
	return client, nil
}

// Model returns the default model configured for a provider.
func (r *Registry) Model(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// List returns all registered client names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
