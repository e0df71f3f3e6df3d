package chat

import (
	"context"
	"time"
)

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation as sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a chat completion prompt.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response carries the model output plus usage accounting.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable chat backend. Unlike STT and TTS there is a
// single configured backend; failures propagate to the caller unretried.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
