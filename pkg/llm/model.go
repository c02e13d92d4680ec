package llm

import "context"

// Model is a hosted language model that can complete a chat.
type Model interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req *CompletionRequest) (*Completion, error)

// Complete calls f(ctx, req).
func (f ModelFunc) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	return f(ctx, req)
}
