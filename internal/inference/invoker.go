// Package inference runs the external leaf classifier and turns its exit
// status and output streams into a typed outcome.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the classifier's verdict for one image.
type Outcome struct {
	Label      string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// Kind distinguishes the ways an invocation can fail.
type Kind string

const (
	// KindProcessError covers non-zero exits, start failures and timeouts.
	KindProcessError Kind = "process_error"
	// KindMalformedOutput covers a zero exit whose stdout is not a valid verdict.
	KindMalformedOutput Kind = "malformed_output"
)

// InvocationError describes a failed classifier run. Detail holds the
// captured stderr for process errors and the raw stdout for malformed output.
type InvocationError struct {
	Kind     Kind
	Detail   string
	ExitCode int
	TimedOut bool
	Cause    error
}

func (e *InvocationError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Kind == KindProcessError && e.ExitCode > 0:
		return fmt.Sprintf("%s: classifier exited with status %d", e.Kind, e.ExitCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return string(e.Kind)
	}
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// AsInvocationError extracts an InvocationError from an error chain.
func AsInvocationError(err error) (*InvocationError, bool) {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr, true
	}
	return nil, false
}

// Invoker classifies a single image. imagePath is an absolute path on the
// local filesystem. A non-nil error is always an *InvocationError.
type Invoker interface {
	Invoke(ctx context.Context, imagePath string) (Outcome, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, imagePath string) (Outcome, error)

func (f InvokerFunc) Invoke(ctx context.Context, imagePath string) (Outcome, error) {
	return f(ctx, imagePath)
}
