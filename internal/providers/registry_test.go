package providers

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{"openai", Config{Type: "openai", APIKey: "k"}, OpenAIName, false},
		{"azure", Config{Type: "azure", APIKey: "k", BaseURL: "https://example.openai.azure.com"}, AzureName, false},
		{"azure without endpoint", Config{Type: "azure", APIKey: "k"}, "", true},
		{"openrouter", Config{Type: "openrouter", APIKey: "k"}, OpenRouterName, false},
		{"anthropic", Config{Type: "anthropic", APIKey: "k"}, AnthropicName, false},
		{"mock with rate cap", Config{Type: "mock", RequestsPerSecond: 5}, MockName, false},
		{"unknown", Config{Type: "carrier-pigeon"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if client.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", client.Name(), tt.wantName)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(context.Background(), map[string]Config{
		"primary": {Type: "mock", Model: "m-1"},
		"backup":  {Type: "mock", Model: "m-2"},
	}, RetryConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if got := reg.List(); len(got) != 2 || got[0] != "backup" || got[1] != "primary" {
		t.Errorf("List() = %v", got)
	}
	client, err := reg.Get("primary")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if client.Config().MaxRetries != DefaultMaxRetries {
		t.Errorf("default retries = %d", client.Config().MaxRetries)
	}
	if reg.Model("backup") != "m-2" {
		t.Errorf("Model(backup) = %q", reg.Model("backup"))
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("expected error for missing client")
	}
}

func TestRegistry_Middleware(t *testing.T) {
	var wrapped []string
	wrap := func(name string, c CompletionClient) CompletionClient {
		wrapped = append(wrapped, name+":"+c.Name())
		return c
	}
	reg, err := NewRegistry(context.Background(), map[string]Config{
		"only": {Type: "mock"},
	}, RetryConfig{}, nil, wrap)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if len(wrapped) != 1 || wrapped[0] != "only:"+MockName {
		t.Errorf("middleware saw %v", wrapped)
	}
	if _, err := reg.Get("only"); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}
