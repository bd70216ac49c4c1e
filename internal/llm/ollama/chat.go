package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"segrag/internal/llm"
)

// DefaultHost is the local Ollama server.
const DefaultHost = "http://localhost:11434"

// Config configures an Ollama connection.
type Config struct {
	Host    string
	Timeout time.Duration
}

// NewAPIClient builds an Ollama API client. It is shared by the chat and
// embedding adapters.
func NewAPIClient(cfg Config) (*api.Client, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 5 * time.Minute
	}
	return api.NewClient(u, &http.Client{Timeout: t}), nil
}

// Client implements llm.ChatClient on the Ollama chat endpoint.
type Client struct {
	api *api.Client
}

func NewClient(c *api.Client) *Client { return &Client{api: c} }

// Name returns the identifier of this chat backend.
func (c *Client) Name() string { return "ollama" }

// Chat sends a non-streaming request; MaxTokens maps to num_predict.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	stream := false
	messages := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var reply strings.Builder
	err := c.api.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if reply.Len() == 0 {
		return "", errors.New("no content returned")
	}
	return reply.String(), nil
}
