package engine

import (
	"context"
	"sync"

	"github.com/jackzampolin/docket/internal/providers"
)

// usageClient sums the usage of every call a custom Execute hook makes.
type usageClient struct {
	inner providers.CompletionClient

	mu    sync.Mutex
	usage providers.Usage
	model string
}

func (c *usageClient) Name() string {
	return c.inner.Name()
}

func (c *usageClient) Complete(ctx context.Context, messages []providers.Message, format providers.ResponseFormat, settings providers.Settings) (*providers.Completion, error) {
	resp, err := c.inner.Complete(ctx, messages, format, settings)
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp != nil {
		c.usage.Add(resp.Usage)
		if resp.Model != "" {
			c.model = resp.Model
		}
	}
	return resp, err
}

func (c *usageClient) snapshot() (providers.Usage, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage, c.model
}

var _ providers.CompletionClient = (*usageClient)(nil)
