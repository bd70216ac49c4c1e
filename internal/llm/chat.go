package llm

import "context"

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is a single, non-streaming chat completion request.
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// ChatClient sends a chat request and returns the text of the single reply.
type ChatClient interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
