package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DelegateToolName is offered to agents that may delegate work.
const DelegateToolName = "delegate_work"

// delegateTool hands a sub-question to a coworker agent. The coworker works
// without tools of its own delegation, so delegation never recurses.
type delegateTool struct {
	coworkers []*Agent
	onStep    func(Step)
	logger    *zap.Logger
}

type delegateArgs struct {
	Coworker string `json:"coworker"`
	Task     string `json:"task"`
	Context  string `json:"context"`
}

func (d *delegateTool) Name() string {
	return DelegateToolName
}

func (d *delegateTool) Description() string {
	roles := make([]string, 0, len(d.coworkers))
	for _, a := range d.coworkers {
		roles = append(roles, a.Role)
	}
	return fmt.Sprintf("Delegate a specific task to one of the following coworkers: %s. "+
		"Provide the coworker's role, the task and all necessary context.", strings.Join(roles, ", "))
}

func (d *delegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"coworker": map[string]any{"type": "string", "description": "The role of the coworker to delegate to"},
			"task":     map[string]any{"type": "string", "description": "The task to delegate"},
			"context":  map[string]any{"type": "string", "description": "Everything the coworker needs to know"},
		},
		"required": []string{"coworker", "task"},
	}
}

func (d *delegateTool) Run(ctx context.Context, arguments string) (string, error) {
	var args delegateArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid delegation arguments: %w", err)
	}

	var coworker *Agent
	for _, a := range d.coworkers {
		if strings.EqualFold(strings.TrimSpace(a.Role), strings.TrimSpace(args.Coworker)) {
			coworker = a
			break
		}
	}
	if coworker == nil {
		return "", fmt.Errorf("no coworker with role %q", args.Coworker)
	}

	logger := d.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if d.onStep != nil {
		d.onStep(Step{Kind: StepDelegated, Task: truncate(args.Task, 40), Agent: coworker.Role})
	}

	exec := &execution{
		agent:  coworker,
		tools:  coworker.Tools,
		task:   truncate(args.Task, 40),
		onStep: d.onStep,
		logger: logger,
	}
	return exec.run(ctx, taskPrompt(args.Task, "", args.Context))
}
