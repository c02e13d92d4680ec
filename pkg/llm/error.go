// Package llm provides the provider-neutral representations of language model
// requests, responses and conversation turns used across supportdesk.
package llm

// ErrorResponse is the JSON error body returned by the HTTP surfaces.
type ErrorResponse struct {
	Error string `json:"error"`
}
