package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jackzampolin/docket/internal/engine"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/source"
)

// Config holds docket configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Provider  string                 `mapstructure:"provider" yaml:"provider" json:"provider" validate:"required"`
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" json:"providers" validate:"required,min=1,dive"`
	Retry     providers.RetryConfig  `mapstructure:"retry" yaml:"retry" json:"retry"`
	Engine    EngineCfg              `mapstructure:"engine" yaml:"engine" json:"engine"`
	Output    OutputCfg              `mapstructure:"output" yaml:"output" json:"output"`
	Source    source.Config          `mapstructure:"source" yaml:"source" json:"source"`
	Runs      RunsCfg                `mapstructure:"runs" yaml:"runs" json:"runs"`
	Log       LogCfg                 `mapstructure:"log" yaml:"log" json:"log"`
}

// ProviderCfg configures one completion provider.
type ProviderCfg struct {
	Type              string        `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=openai azure openrouter anthropic gemini mock"`
	Model             string        `mapstructure:"model" yaml:"model" json:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key" json:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIVersion        string        `mapstructure:"api_version" yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty" validate:"gte=0"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" validate:"gte=0"`
}

// EngineCfg holds scheduler defaults. A job's own values win.
type EngineCfg struct {
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency" validate:"gte=0"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" yaml:"task_timeout" json:"task_timeout" validate:"gte=0"`
	BatchDelay    time.Duration `mapstructure:"batch_delay" yaml:"batch_delay" json:"batch_delay" validate:"gte=0"`
	ProgressEvery int           `mapstructure:"progress_every" yaml:"progress_every" json:"progress_every" validate:"gte=0"`
}

// OutputCfg overrides where run artifacts go. Empty means under the home dir.
type OutputCfg struct {
	ResultsDir  string `mapstructure:"results_dir" yaml:"results_dir" json:"results_dir"`
	FullDataDir string `mapstructure:"full_data_dir" yaml:"full_data_dir" json:"full_data_dir"`
}

// RunsCfg configures the run index.
type RunsCfg struct {
	// Index is the SQLite run index path. Empty uses {home}/runs.db, "off"
	// disables it.
	Index string `mapstructure:"index" yaml:"index" json:"index"`

	// Calls is the SQLite LLM call log path. Empty uses {home}/calls.db,
	// "off" disables call recording.
	Calls string `mapstructure:"calls" yaml:"calls" json:"calls"`
}

// LogCfg configures the CLI logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: "openai",
		Providers: map[string]ProviderCfg{
			"openai": {
				Type:   providers.OpenAIName,
				Model:  "gpt-4.1-mini",
				APIKey: "${OPENAI_API_KEY}",
			},
			"openrouter": {
				Type:   providers.OpenRouterName,
				Model:  "anthropic/claude-sonnet-4",
				APIKey: "${OPENROUTER_API_KEY}",
			},
		},
		Retry: providers.RetryConfig{
			MaxRetries: providers.DefaultMaxRetries,
			BaseDelay:  providers.DefaultBaseDelay,
		},
		Engine: EngineCfg{
			Concurrency:   engine.DefaultConcurrency,
			TaskTimeout:   engine.DefaultTimeout,
			BatchDelay:    engine.DefaultBatchDelay,
			ProgressEvery: engine.DefaultProgressEvery,
		},
		Source: source.Config{
			Driver: "sqlite",
			DSN:    "decisions.db",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the default provider exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("invalid config: provider %q is not configured", c.Provider)
	}
	return nil
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// RunsIndexDisabled reports whether the run index is switched off.
func (c *Config) RunsIndexDisabled() bool {
	return strings.EqualFold(c.Runs.Index, "off")
}

// RetryPolicy returns the retry settings for providers.NewRegistry. Viper
// fills max_retries when the key is absent, so a zero here was set explicitly
// and disables retries.
func (c *Config) RetryPolicy() providers.RetryConfig {
	r := c.Retry
	if r.MaxRetries == 0 {
		r.MaxRetries = providers.NoRetries
	}
	return r
}

// CallLogDisabled reports whether LLM call recording is switched off.
func (c *Config) CallLogDisabled() bool {
	return strings.EqualFold(c.Runs.Calls, "off")
}

// ToProviderRegistryConfig converts the provider section to a format suitable
// for providers.NewRegistry. It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() map[string]providers.Config {
	out := make(map[string]providers.Config, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = providers.Config{
			Type:              p.Type,
			Model:             p.Model,
			APIKey:            ResolveEnvVars(p.APIKey),
			BaseURL:           ResolveEnvVars(p.BaseURL),
			APIVersion:        p.APIVersion,
			Timeout:           p.Timeout,
			RequestsPerSecond: p.RequestsPerSecond,
			MaxTokens:         p.MaxTokens,
		}
	}
	return out
}
