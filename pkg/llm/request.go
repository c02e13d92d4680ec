package llm

// CompletionRequest is a single non-streaming chat completion request.
type CompletionRequest struct {
	Model    string     `json:"model,omitempty"` // Overrides the client's default model when set
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`

	Options Options `json:"options"`
}

// ToolSpec declares a tool the model may call.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is the JSON schema of the tool arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
}
