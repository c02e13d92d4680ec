package crew

import (
	"context"

	"github.com/papercomputeco/supportdesk/pkg/llm"
)

// Tool is a capability an agent may invoke while working on a task.
type Tool interface {
	// Name is the identifier the model uses to call the tool.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters is the JSON schema of the tool arguments.
	Parameters() map[string]any

	// Run executes the tool with JSON encoded arguments and returns its
	// textual result.
	Run(ctx context.Context, arguments string) (string, error)
}

func toolSpecs(tools []Tool) []llm.ToolSpec {
	if len(tools) == 0 {
		return nil
	}

	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

func findTool(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
