package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedClient paces requests to a provider with a token bucket so that a
// large batch does not trip the provider's own throttling.
type RateLimitedClient struct {
	inner   CompletionClient
	limiter *rate.Limiter
}

// WithRateLimit wraps client with a requests-per-second cap. A non-positive
// rps returns the client unchanged.
func WithRateLimit(client CompletionClient, rps float64) CompletionClient {
	if rps <= 0 {
		return client
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		inner:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Name returns the wrapped client's identifier.
func (c *RateLimitedClient) Name() string {
	return c.inner.Name()
}

// Complete waits for a token, then forwards the call.
func (c *RateLimitedClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.inner.Complete(ctx, messages, format, settings)
}

var _ CompletionClient = (*RateLimitedClient)(nil)
