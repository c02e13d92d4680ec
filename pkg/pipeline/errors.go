package pipeline

import (
	"errors"
	"fmt"
)

// ErrorMarker prefixes every error shown to the user as an answer.
const ErrorMarker = "❌ Error:"

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	// KindFetch covers network, timeout and parse failures of the content fetch.
	KindFetch ErrorKind = "FetchError"

	// KindPipeline covers orchestration runtime failures and malformed results.
	KindPipeline ErrorKind = "PipelineError"

	// KindConfiguration covers missing credentials and invalid settings.
	KindConfiguration ErrorKind = "ConfigurationError"
)

// Error is a failed run: what kind of failure, and the stage it happened in.
type Error struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// ErrorText renders err as the user-visible answer text.
func ErrorText(err error) string {
	return fmt.Sprintf("%s %s", ErrorMarker, err.Error())
}
