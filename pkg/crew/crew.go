// Package crew is a small orchestration runtime: it runs units of work
// (tasks) in order across role-configured, model-calling agents and hands
// task outputs forward as explicit context.
package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/pkg/llm"
)

// ErrNoTasks is returned when a crew is kicked off without tasks.
var ErrNoTasks = errors.New("crew has no tasks")

// StepKind classifies a Step.
type StepKind string

const (
	StepTaskStarted  StepKind = "task_started"
	StepToolCalled   StepKind = "tool_called"
	StepDelegated    StepKind = "delegated"
	StepTaskFinished StepKind = "task_finished"
)

// Step is a progress event emitted while a crew runs.
type Step struct {
	Kind  StepKind
	Task  string
	Agent string
	Tool  string
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Task        string    `json:"task"`
	Agent       string    `json:"agent"`
	Description string    `json:"description"`
	Raw         string    `json:"raw"`
	Usage       llm.Usage `json:"usage"`
}

// Output is the result of a kickoff.
type Output struct {
	// Output is the final task's answer. It is empty when the final task
	// produced no text.
	Output string `json:"output"`

	// Tasks holds every task output in execution order.
	Tasks []TaskOutput `json:"tasks"`

	// Usage sums token usage across all model calls of the run.
	Usage llm.Usage `json:"usage"`
}

// String renders every non-empty task output, most recent last.
func (o *Output) String() string {
	if o == nil {
		return ""
	}

	parts := make([]string, 0, len(o.Tasks))
	for _, t := range o.Tasks {
		if raw := strings.TrimSpace(t.Raw); raw != "" {
			parts = append(parts, raw)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Crew runs its tasks sequentially.
type Crew struct {
	Agents []*Agent
	Tasks  []*Task

	// Memory keeps task outputs across the run. Tasks without an explicit
	// Context then receive every earlier output of the run.
	Memory bool

	// OnStep, when set, receives progress events.
	OnStep func(Step)

	Logger *zap.Logger
}

// Kickoff runs every task in order. Placeholders in task descriptions are
// replaced by inputs.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Output, error) {
	if len(c.Tasks) == 0 {
		return nil, ErrNoTasks
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	memory := NewShortTermMemory()
	out := &Output{Tasks: make([]TaskOutput, 0, len(c.Tasks))}

	for i, task := range c.Tasks {
		if task.Agent == nil {
			return nil, fmt.Errorf("task %d (%s) has no agent", i, task.label())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		taskContext, err := c.resolveContext(task, memory)
		if err != nil {
			return nil, err
		}

		c.emit(Step{Kind: StepTaskStarted, Task: task.label(), Agent: task.Agent.Role})
		logger.Info("task started",
			zap.Int("index", i),
			zap.String("task", task.label()),
			zap.String("agent", task.Agent.Role),
			zap.Int("context_length", len(taskContext)),
		)

		exec := &execution{
			agent:  task.Agent,
			tools:  c.toolsFor(task),
			task:   task.label(),
			onStep: c.OnStep,
			logger: logger,
		}

		description := interpolate(task.Description, inputs)
		raw, err := exec.run(ctx, taskPrompt(description, interpolate(task.ExpectedOutput, inputs), taskContext))
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.label(), err)
		}

		memory.Save(task, task.Agent.Role, raw)
		out.Tasks = append(out.Tasks, TaskOutput{
			Task:        task.label(),
			Agent:       task.Agent.Role,
			Description: description,
			Raw:         raw,
			Usage:       exec.usage,
		})
		out.Usage.Add(exec.usage)

		c.emit(Step{Kind: StepTaskFinished, Task: task.label(), Agent: task.Agent.Role})
		logger.Info("task finished",
			zap.String("task", task.label()),
			zap.Int("output_length", len(raw)),
			zap.Int64("total_tokens", exec.usage.TotalTokens),
		)
	}

	out.Output = strings.TrimSpace(out.Tasks[len(out.Tasks)-1].Raw)
	return out, nil
}

// resolveContext returns the context text handed to task: the outputs of its
// explicit Context tasks, or with Memory enabled, every earlier output.
func (c *Crew) resolveContext(task *Task, memory *ShortTermMemory) (string, error) {
	var parts []string

	if len(task.Context) > 0 {
		for _, dep := range task.Context {
			output, ok := memory.Lookup(dep)
			if !ok {
				return "", fmt.Errorf("task %s depends on %s, which has not run yet", task.label(), dep.label())
			}
			parts = append(parts, output)
		}
		return strings.Join(parts, "\n\n"), nil
	}

	if c.Memory {
		for _, e := range memory.Entries() {
			parts = append(parts, e.Output)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (c *Crew) toolsFor(task *Task) []Tool {
	tools := make([]Tool, 0, len(task.Agent.Tools)+len(task.Tools)+1)
	tools = append(tools, task.Agent.Tools...)
	tools = append(tools, task.Tools...)

	if task.Agent.AllowDelegation {
		if coworkers := c.coworkers(task.Agent); len(coworkers) > 0 {
			tools = append(tools, &delegateTool{
				coworkers: coworkers,
				onStep:    c.OnStep,
				logger:    c.Logger,
			})
		}
	}
	return tools
}

func (c *Crew) coworkers(self *Agent) []*Agent {
	var out []*Agent
	for _, a := range c.Agents {
		if a != self {
			out = append(out, a)
		}
	}
	return out
}

func (c *Crew) emit(s Step) {
	if c.OnStep != nil {
		c.OnStep(s)
	}
}

func taskPrompt(description, expectedOutput, taskContext string) string {
	var b strings.Builder
	b.WriteString("Current Task: ")
	b.WriteString(description)

	if expectedOutput != "" {
		b.WriteString("\n\nThis is the expected criteria for your final answer: ")
		b.WriteString(expectedOutput)
		b.WriteString("\nYou MUST return the actual complete content as the final answer, not a summary.")
	}

	if taskContext != "" {
		b.WriteString("\n\nThis is the context you're working with:\n")
		b.WriteString(taskContext)
	}

	b.WriteString("\n\nBegin! This is VERY important to you, use the tools available and give your best Final Answer.")
	return b.String()
}
