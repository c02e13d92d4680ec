package llm

// Options contains the sampling parameters of a role-configured agent.
type Options struct {
	// Temperature controls creativity (0.0-2.0). Nil leaves the provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens caps the number of generated tokens. Zero leaves the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Stop sequences
	Stop []string `json:"stop,omitempty"`
}

// Float returns a pointer to v, for optional option fields.
func Float(v float64) *float64 {
	return &v
}
