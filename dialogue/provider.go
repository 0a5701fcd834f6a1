// Package dialogue produces tutor utterances from a language model.
package dialogue

import (
	"context"

	lesson "github.com/linguapulse/lesson"
)

// Message is one chat message sent to a model.
type Message struct {
	Role    lesson.Role
	Content string
}

// Request is a single completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSON asks the model for a single JSON object.
	JSON bool
}

// Result is a completion.
type Result struct {
	Text  string
	Model string
}

// Provider is a chat completion backend.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete returns the model's answer to req.
	Complete(ctx context.Context, req Request) (*Result, error)
}

// FromHistory converts a lesson history into chat messages.
func FromHistory(h lesson.History) []Message {
	out := make([]Message, 0, len(h))
	for _, t := range h {
		out = append(out, Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (*Result, error)

// Name implements Provider.
func (f ProviderFunc) Name() string { return "func" }

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
