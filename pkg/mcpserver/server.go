// Package mcpserver exposes support sessions as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

const (
	// AskToolName answers a question from a website.
	AskToolName = "ask_website"

	// HistoryToolName returns a session's retained turns.
	HistoryToolName = "conversation_history"
)

// AskInput are the arguments of AskToolName.
type AskInput struct {
	Question   string `json:"question" jsonschema:"the support question to answer"`
	WebsiteURL string `json:"website_url,omitempty" jsonschema:"website to answer from; defaults to the session's website"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"session to continue; omit to start a new conversation"`
}

// AskOutput is the structured result of AskToolName.
type AskOutput struct {
	SessionID string    `json:"session_id"`
	Answer    string    `json:"answer"`
	Failed    bool      `json:"failed"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Progress  []string  `json:"progress"`
	Usage     llm.Usage `json:"usage"`
}

// HistoryInput are the arguments of HistoryToolName.
type HistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"session returned by ask_website"`
}

// HistoryOutput lists retained turns, oldest first.
type HistoryOutput struct {
	SessionID string                 `json:"session_id"`
	Turns     []llm.ConversationTurn `json:"turns"`
}

// New builds an MCP server backed by registry.
func New(registry *session.Registry, version string, logger *zap.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "supportdesk",
		Version: version,
	}, nil)

	h := &handlers{registry: registry, logger: logger}

	mcp.AddTool(server, &mcp.Tool{
		Name:        AskToolName,
		Description: "Answer a customer support question using only the content of a website. Reuse session_id to keep conversation context.",
	}, h.ask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        HistoryToolName,
		Description: "Return the retained conversation turns of a support session.",
	}, h.history)

	return server
}

type handlers struct {
	registry *session.Registry
	logger   *zap.Logger
}

func (h *handlers) ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	sess := h.registry.GetOrCreate(in.SessionID)

	if in.WebsiteURL != "" {
		settings := sess.Settings()
		settings.WebsiteURL = in.WebsiteURL
		if err := sess.UpdateSettings(settings); err != nil {
			return nil, AskOutput{}, fmt.Errorf("invalid website_url: %w", err)
		}
	}

	h.logger.Debug("mcp ask",
		zap.String("session_id", sess.ID()),
		zap.String("website", sess.Settings().WebsiteURL),
	)

	reply, err := sess.Submit(ctx, in.Question)
	switch {
	case errors.Is(err, session.ErrMissingAPIKey):
		return nil, AskOutput{}, errors.New("server has no OpenAI API key configured")
	case errors.Is(err, session.ErrNotReady):
		return nil, AskOutput{}, errors.New("question and website_url are required")
	case err != nil:
		return nil, AskOutput{}, err
	}

	out := AskOutput{
		SessionID: sess.ID(),
		Answer:    reply.Answer,
		Failed:    reply.Failed,
		ErrorKind: string(reply.Kind),
		Progress:  reply.Progress,
		Usage:     reply.Usage,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: reply.Answer}},
		IsError: reply.Failed,
	}, out, nil
}

func (h *handlers) history(_ context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	sess, ok := h.registry.Get(in.SessionID)
	if !ok {
		return nil, HistoryOutput{}, fmt.Errorf("unknown session %q", in.SessionID)
	}

	return nil, HistoryOutput{
		SessionID: sess.ID(),
		Turns:     sess.History(),
	}, nil
}
