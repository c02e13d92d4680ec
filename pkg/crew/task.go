package crew

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Task is a unit of work: an instruction, a description of the expected
// output, optional tools, and the agent that performs it.
type Task struct {
	// Name identifies the task in outputs and logs.
	Name string

	// Description is the instruction given to the agent. Placeholders of the
	// form {key} are replaced by kickoff inputs.
	Description string

	// ExpectedOutput describes what the final answer must look like.
	ExpectedOutput string

	// Agent performs the task.
	Agent *Agent

	// Tools are offered to the agent in addition to its own.
	Tools []Tool

	// Context lists tasks whose outputs are handed to this task explicitly.
	Context []*Task
}

// label returns the task's name, or a prefix of its description.
func (t *Task) label() string {
	if t.Name != "" {
		return t.Name
	}
	return truncate(t.Description, 40)
}

// interpolate replaces {key} placeholders with inputs.
func interpolate(s string, inputs map[string]string) string {
	if len(inputs) == 0 || !strings.Contains(s, "{") {
		return s
	}

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", inputs[k])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
