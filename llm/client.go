// Client - generation client over providers.
//
// The summarization pipeline issues single-shot system+user calls; Client
// packages that shape so callers never assemble message slices by hand.

package llm

import (
	"context"
)

// Client wraps a Provider with a single-shot generation interface.
type Client struct {
	provider Provider
}

// NewClient creates a new generation client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Generate sends one system+user exchange and returns the text content
// with token usage. An empty system prompt sends the user message alone.
func (c *Client) Generate(ctx context.Context, system, user string) (string, *TokenUsage, error) {
	response, err := c.provider.Chat(ctx, buildMessages(system, user))
	if err != nil {
		return "", nil, err
	}
	return response.Content, response.Usage, nil
}

// GenerateJSON is Generate with the json_object response format applied.
func (c *Client) GenerateJSON(ctx context.Context, system, user string) (string, *TokenUsage, error) {
	response, err := c.provider.ChatWithFormat(ctx, buildMessages(system, user), NewJSONObjectFormat())
	if err != nil {
		return "", nil, err
	}
	return response.Content, response.Usage, nil
}

// Provider returns the underlying provider.
func (c *Client) Provider() Provider {
	return c.provider
}

func buildMessages(system, user string) []ChatMessage {
	var messages []ChatMessage
	if system != "" {
		messages = append(messages, SystemMessage(system))
	}
	messages = append(messages, UserMessage(user))
	return messages
}
