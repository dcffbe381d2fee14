package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockResponder produces the outcome of one mock call. call is 1-based and
// counts every call made to the client.
type MockResponder func(ctx context.Context, call int, messages []Message, format ResponseFormat) (*Completion, error)

// MockClient is a scripted CompletionClient for tests and dry runs.
type MockClient struct {
	Respond MockResponder
	Delay   time.Duration

	calls atomic.Int64
	mu    sync.Mutex
	seen  [][]Message
}

// NewMockClient returns a client that answers every call with content.
func NewMockClient(content string) *MockClient {
	return &MockClient{
		Respond: func(context.Context, int, []Message, ResponseFormat) (*Completion, error) {
			return &Completion{
				Content: content,
				Usage:   Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}
}

// Name returns the provider identifier.
func (m *MockClient) Name() string {
	return MockName
}

// Complete records the call and delegates to Respond.
func (m *MockClient) Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error) {
	n := int(m.calls.Add(1))
	m.mu.Lock()
	m.seen = append(m.seen, messages)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	out, err := m.Respond(ctx, n, messages, format)
	if err != nil {
		return nil, err
	}
	if out.Provider == "" {
		out.Provider = MockName
	}
	if out.Model == "" {
		out.Model = modelOr(settings, "mock-model")
	}
	return out, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int {
	return int(m.calls.Load())
}

// Messages returns the message lists received, in call order.
func (m *MockClient) Messages() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.seen))
	copy(out, m.seen)
	return out
}

var _ CompletionClient = (*MockClient)(nil)
