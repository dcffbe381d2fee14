package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/docket/internal/providers"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Engine.Concurrency != 200 || cfg.Engine.TaskTimeout != 300*time.Second {
		t.Errorf("unexpected engine defaults: %+v", cfg.Engine)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("expands inside a larger string", func(t *testing.T) {
		t.Setenv("TEST_HOST", "example.org")

		result := ResolveEnvVars("https://${TEST_HOST}/v1")
		if result != "https://example.org/v1" {
			t.Errorf("expected expanded url, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown default provider", func(c *Config) { c.Provider = "nope" }, "not configured"},
		{"unknown provider type", func(c *Config) { c.Providers["x"] = ProviderCfg{Type: "carrier-pigeon"} }, "Type"},
		{"negative concurrency", func(c *Config) { c.Engine.Concurrency = -1 }, "Concurrency"},
		{"too many retries", func(c *Config) { c.Retry.MaxRetries = 50 }, "MaxRetries"},
		{"retries below disabled", func(c *Config) { c.Retry.MaxRetries = -2 }, "MaxRetries"},
		{"bad source driver", func(c *Config) { c.Source.Driver = "oracle" }, "Driver"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "Format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"router":  {Type: providers.OpenRouterName, Model: "m", APIKey: "${TEST_OPENROUTER_KEY}"},
			"literal": {Type: providers.OpenAIName, APIKey: "direct-key", Timeout: time.Minute},
		},
	}

	got := cfg.ToProviderRegistryConfig()
	if got["router"].APIKey != "or-key-123" {
		t.Errorf("expected resolved key, got %s", got["router"].APIKey)
	}
	if got["literal"].APIKey != "direct-key" || got["literal"].Timeout != time.Minute {
		t.Errorf("unexpected literal provider: %+v", got["literal"])
	}
	if got["router"].Type != providers.OpenRouterName || got["router"].Model != "m" {
		t.Errorf("unexpected router provider: %+v", got["router"])
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
provider: local
providers:
  local:
    type: mock
    model: test-model
engine:
  concurrency: 25
  task_timeout: 90s
retry:
  max_retries: 5
`
		if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cm, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}

		cfg := cm.Get()
		if cfg.Provider != "local" || cfg.Providers["local"].Model != "test-model" {
			t.Errorf("unexpected providers: %s %+v", cfg.Provider, cfg.Providers)
		}
		if cfg.Engine.Concurrency != 25 {
			t.Errorf("expected concurrency 25, got %d", cfg.Engine.Concurrency)
		}
		if cfg.Engine.TaskTimeout != 90*time.Second {
			t.Errorf("expected 90s timeout, got %s", cfg.Engine.TaskTimeout)
		}
		if cfg.Engine.BatchDelay != 500*time.Millisecond {
			t.Errorf("expected default batch delay, got %s", cfg.Engine.BatchDelay)
		}
		if cfg.Retry.MaxRetries != 5 {
			t.Errorf("expected 5 retries, got %d", cfg.Retry.MaxRetries)
		}
		if cm.ConfigFileUsed() != configFile {
			t.Errorf("expected %s, got %s", configFile, cm.ConfigFileUsed())
		}
	})

	t.Run("falls back to defaults without a file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())

		cm, err := NewManager("")
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		cfg := cm.Get()
		if cfg.Provider != "openai" || len(cfg.Providers) != 2 {
			t.Errorf("expected default providers, got %s %v", cfg.Provider, cfg.Providers)
		}
		if cm.ConfigFileUsed() != "" {
			t.Errorf("expected no config file, got %s", cm.ConfigFileUsed())
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())
		t.Setenv("DOCKET_ENGINE_CONCURRENCY", "7")
		t.Setenv("DOCKET_LOG_LEVEL", "debug")

		cm, err := NewManager("")
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}
		cfg := cm.Get()
		if cfg.Engine.Concurrency != 7 {
			t.Errorf("expected concurrency 7, got %d", cfg.Engine.Concurrency)
		}
		if cfg.Log.Level != "debug" {
			t.Errorf("expected debug, got %s", cfg.Log.Level)
		}
	})

	t.Run("rejects invalid file", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configFile, []byte("provider: missing\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := NewManager(configFile); err == nil {
			t.Fatal("expected error for unknown default provider")
		}
	})

	t.Run("managers do not share state", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.yaml")
		b := filepath.Join(dir, "b.yaml")
		os.WriteFile(a, []byte("engine:\n  concurrency: 1\n"), 0o644)
		os.WriteFile(b, []byte("engine:\n  concurrency: 2\n"), 0o644)

		ma, err := NewManager(a)
		if err != nil {
			t.Fatal(err)
		}
		mb, err := NewManager(b)
		if err != nil {
			t.Fatal(err)
		}
		if ma.Get().Engine.Concurrency != 1 || mb.Get().Engine.Concurrency != 2 {
			t.Errorf("expected 1 and 2, got %d and %d", ma.Get().Engine.Concurrency, mb.Get().Engine.Concurrency)
		}
	})
}

func TestManager_OnChange(t *testing.T) {
	cm := &Manager{config: DefaultConfig()}

	var got []*Config
	cm.OnChange(func(c *Config) { got = append(got, c) })
	cm.OnChange(func(c *Config) { got = append(got, c) })

	if len(cm.callbacks) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(cm.callbacks))
	}
	for _, fn := range cm.callbacks {
		fn(cm.Get())
	}
	if len(got) != 2 || got[0] != cm.Get() {
		t.Errorf("callbacks not invoked with current config")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Docket configuration") {
		t.Error("expected header comment")
	}
	if !strings.Contains(string(data), "${OPENAI_API_KEY}") {
		t.Error("expected API key placeholder to be written unresolved")
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	cfg := cm.Get()
	if cfg.Engine.TaskTimeout != 300*time.Second || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("durations did not round trip: %+v %+v", cfg.Engine, cfg.Retry)
	}
}

func TestConfig_RetryPolicy(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"unset uses default", "log:\n  level: info\n", providers.DefaultMaxRetries},
		{"zero disables retries", "retry:\n  max_retries: 0\n", providers.NoRetries},
		{"minus one disables retries", "retry:\n  max_retries: -1\n", providers.NoRetries},
		{"explicit count", "retry:\n  max_retries: 5\n", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			cm, err := NewManager(path)
			if err != nil {
				t.Fatalf("NewManager failed: %v", err)
			}
			if got := cm.Get().RetryPolicy().MaxRetries; got != tt.want {
				t.Errorf("RetryPolicy().MaxRetries = %d, want %d", got, tt.want)
			}
		})
	}
}
