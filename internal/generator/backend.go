package generator

import "context"

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a backend-neutral completion request. Nil sampling fields and a zero MaxTokens are omitted on the wire.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// Backend is a chat completion service.
type Backend interface {
	Complete(ctx context.Context, req *ChatRequest) (string, error)
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)
}

// Stream is a pull-based sequence of content deltas.
// Next returns io.EOF after the end marker. Deltas may be empty.
type Stream interface {
	Next() (string, error)
	Close() error
}
