// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/supportdesk/pkg/llm"
)

// Responder produces the completion for the n-th call (0-based).
type Responder func(n int, req *llm.CompletionRequest) (*llm.Completion, error)

// Model records every request and answers with a Responder.
type Model struct {
	mu       sync.Mutex
	respond  Responder
	requests []*llm.CompletionRequest
}

// New creates a Model backed by respond.
func New(respond Responder) *Model {
	return &Model{respond: respond}
}

// Replies creates a Model that answers the n-th call with replies[n] and
// fails once the script is exhausted.
func Replies(replies ...string) *Model {
	return New(func(n int, _ *llm.CompletionRequest) (*llm.Completion, error) {
		if n >= len(replies) {
			return nil, fmt.Errorf("llmtest: unexpected call %d", n)
		}
		return &llm.Completion{
			Model:        "test-model",
			Content:      replies[n],
			FinishReason: "stop",
			Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Requests: 1},
		}, nil
	})
}

// Complete implements llm.Model.
func (m *Model) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return m.respond(n, req)
}

// Requests returns the requests seen so far, in call order.
func (m *Model) Requests() []*llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastUserMessage returns the content of the last user message of req.
func LastUserMessage(req *llm.CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
