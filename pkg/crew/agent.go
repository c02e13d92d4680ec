package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
)

// DefaultMaxIterations bounds the tool-calling loop of an agent.
const DefaultMaxIterations = 5

// ErrNoModel is returned when an agent has no model to call.
var ErrNoModel = errors.New("agent has no model")

// Agent is a role-configured persona that calls a hosted model with fixed
// behavioral parameters.
type Agent struct {
	Role      string
	Goal      string
	Backstory string

	// Model is called for every step of the agent.
	Model llm.Model

	// ModelName overrides the model client's default model when set.
	ModelName string

	// Temperature and MaxTokens are sent with every call.
	Temperature float64
	MaxTokens   int

	// AllowDelegation lets the agent hand sub-questions to coworkers of the
	// same crew.
	AllowDelegation bool

	// Tools are available to the agent on every task.
	Tools []Tool

	// MaxIterations bounds tool-calling rounds. Zero uses DefaultMaxIterations.
	MaxIterations int
}

// execution is the state of one agent working on one prompt.
type execution struct {
	agent  *Agent
	tools  []Tool
	task   string
	onStep func(Step)
	logger *zap.Logger
	usage  llm.Usage
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", a.Role, strings.TrimSpace(a.Backstory))
	fmt.Fprintf(&b, "Your personal goal is: %s", a.Goal)
	return b.String()
}

func (a *Agent) options() llm.Options {
	return llm.Options{
		Temperature: llm.Float(a.Temperature),
		MaxTokens:   a.MaxTokens,
	}
}

func (a *Agent) maxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return DefaultMaxIterations
}

// run drives the tool-calling loop until the model answers without calling
// a tool, then returns that answer.
func (e *execution) run(ctx context.Context, prompt string) (string, error) {
	a := e.agent
	if a.Model == nil {
		return "", ErrNoModel
	}

	messages := []llm.Message{
		llm.SystemMessage(a.systemPrompt()),
		llm.UserMessage(prompt),
	}
	specs := toolSpecs(e.tools)

	for i := 0; i < a.maxIterations(); i++ {
		comp, err := e.complete(ctx, messages, specs)
		if err != nil {
			return "", err
		}

		if len(comp.ToolCalls) == 0 {
			return strings.TrimSpace(comp.Content), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   comp.Content,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			messages = append(messages, llm.ToolMessage(call.ID, e.callTool(ctx, call)))
		}
	}

	// Out of iterations: ask for the final answer with tools withdrawn.
	e.logger.Warn("agent reached max iterations, forcing final answer",
		zap.String("agent", a.Role),
		zap.Int("max_iterations", a.maxIterations()),
	)
	messages = append(messages, llm.UserMessage("Now give your best complete final answer. Do not call any more tools."))
	comp, err := e.complete(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(comp.Content), nil
}

func (e *execution) complete(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec) (*llm.Completion, error) {
	req := &llm.CompletionRequest{
		Model:    e.agent.ModelName,
		Messages: messages,
		Tools:    specs,
		Options:  e.agent.options(),
	}

	comp, err := e.agent.Model.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: model call failed: %w", e.agent.Role, err)
	}
	if comp == nil {
		return nil, fmt.Errorf("%s: model returned no completion", e.agent.Role)
	}

	e.usage.Add(comp.Usage)

	e.logger.Debug("model step completed",
		zap.String("agent", e.agent.Role),
		zap.Int("tool_calls", len(comp.ToolCalls)),
		zap.String("finish_reason", comp.FinishReason),
		zap.String("content_preview", truncate(comp.Content, 80)),
	)
	return comp, nil
}

// callTool runs one tool call. Tool failures are reported back to the model
// as text so it can recover.
func (e *execution) callTool(ctx context.Context, call llm.ToolCall) string {
	tool := findTool(e.tools, call.Name)
	if tool == nil {
		e.logger.Warn("model called unknown tool", zap.String("tool", call.Name))
		return fmt.Sprintf("Error: tool %q is not available", call.Name)
	}

	e.emit(Step{Kind: StepToolCalled, Task: e.task, Agent: e.agent.Role, Tool: call.Name})

	result, err := tool.Run(ctx, call.Arguments)
	if err != nil {
		e.logger.Warn("tool failed", zap.String("tool", call.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	return result
}

func (e *execution) emit(s Step) {
	if e.onStep != nil {
		e.onStep(s)
	}
}
