// Package llm provides an abstraction over the chat completion service.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/xiaot623/prism/internal/domain"
)

// Client defines the completion operation used by the conversation engine and the summary pipeline.
type Client interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

func (f ClientFunc) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	return f(ctx, req)
}

var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*MockClient)(nil)
	_ Client = ClientFunc(nil)
)

// Complete sends messages to the model and returns the first choice.
// Every failure, including an empty choice list, wraps domain.ErrUpstreamCompletion.
func Complete(ctx context.Context, c Client, model string, messages []ChatMessage) (*ChatMessage, *Usage, error) {
	resp, err := c.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrUpstreamCompletion, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, resp.Usage, fmt.Errorf("%w: response has no choices", domain.ErrUpstreamCompletion)
	}
	return resp.Choices[0].Message, resp.Usage, nil
}

// Observe wraps c so that every call reports its latency and error to fn.
func Observe(c Client, fn func(d time.Duration, err error)) Client {
	return ClientFunc(func(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
		start := time.Now()
		resp, err := c.CreateChatCompletion(ctx, req)
		fn(time.Since(start), err)
		return resp, err
	})
}
