package llmcall

import (
	"context"
	"time"

	"github.com/jackzampolin/docket/internal/providers"
)

// Client records every Complete call on the wrapped client.
type Client struct {
	inner    providers.CompletionClient
	recorder *Recorder
	opts     Options
}

var _ providers.CompletionClient = (*Client)(nil)

// Wrap decorates inner so each attempt is sent to recorder.
func Wrap(inner providers.CompletionClient, recorder *Recorder, opts Options) *Client {
	return &Client{inner: inner, recorder: recorder, opts: opts}
}

// Middleware adapts Wrap for providers.NewRegistry.
func Middleware(recorder *Recorder, opts Options) providers.Middleware {
	return func(_ string, client providers.CompletionClient) providers.CompletionClient {
		return Wrap(client, recorder, opts)
	}
}

// Name returns the wrapped client's identifier.
func (c *Client) Name() string {
	return c.inner.Name()
}

// Complete forwards to the wrapped client and records the outcome.
func (c *Client) Complete(ctx context.Context, messages []providers.Message, format providers.ResponseFormat, settings providers.Settings) (*providers.Completion, error) {
	start := time.Now()
	out, err := c.inner.Complete(ctx, messages, format, settings)

	provider := c.inner.Name()
	if out != nil && out.Provider != "" {
		provider = out.Provider
	}
	c.recorder.Record(newCall(start, provider, messages, format, settings, out, err, c.opts))
	return out, err
}
