package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second

	// NoRetries disables rate-limit retries. A zero MaxRetries means "use the
	// default" in a RetryConfig literal.
	NoRetries = -1
)

// RetryConfig controls the rate-limit retry policy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries" validate:"gte=-1,lte=20"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay" json:"base_delay" validate:"gte=0"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// Backoff returns the delay before retry number attempt (0-based):
// base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt uint) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(uint64(1)<<attempt)
}

// RetryingClient wraps a CompletionClient and retries rate-limited calls with
// exponential backoff. Any other error is returned immediately, and the last
// rate-limit error is returned unchanged once retries are exhausted.
type RetryingClient struct {
	inner  CompletionClient
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry decorates client with the retry policy. A negative MaxRetries
// disables retries.
func WithRetry(client CompletionClient, cfg RetryConfig, logger *slog.Logger) *RetryingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{
		inner:  client,
		cfg:    cfg.withDefaults(),
		logger: logger.With("provider", client.Name()),
	}
}

// Name returns the wrapped client's identifier.
func (c *RetryingClient) Name() string {
	return c.inner.Name()
}

// Config returns the effective retry configuration.
func (c *RetryingClient) Config() RetryConfig {
	return c.cfg
}

// WithMaxRetries returns a copy of the client using a different retry budget.
func (c *RetryingClient) WithMaxRetries(n int) *RetryingClient {
	cp := *c
	cp.cfg.MaxRetries = n
	return &cp
}

// Complete calls the wrapped client, retrying on rate limits.
func (c *RetryingClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	base := c.cfg.BaseDelay

	return retry.DoWithData(
		func() (*Completion, error) {
			return c.inner.Complete(ctx, messages, format, settings)
		},
		retry.Context(ctx),
		retry.Attempts(uint(retries)+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRateLimited),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return Backoff(base, n)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("rate limited, backing off",
				"attempt", n+1,
				"max_retries", retries,
				"delay", Backoff(base, n),
				"error", err)
		}),
	)
}

var _ CompletionClient = (*RetryingClient)(nil)
