// Package phase defines the pipeline's capability interface and the five
// phases built on top of it. Each phase reads the blackboard, delegates the
// real work to an agent, and returns a delta for the orchestrator to merge.
package phase

import (
	"context"
	"errors"

	"github.com/jorge-barreto/patchr/internal/state"
)

// Phase transforms the blackboard into a delta, or fails. The call's deadline
// is carried by ctx. Implementations must not keep b after returning.
type Phase interface {
	Name() string
	Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
}

// Func adapts a plain function to Phase. Tests use it to script phases.
type Func struct {
	PhaseName string
	Fn        func(ctx context.Context, b *state.Blackboard) (*state.Delta, error)
}

func (f Func) Name() string { return f.PhaseName }

func (f Func) Run(ctx context.Context, b *state.Blackboard) (*state.Delta, error) {
	return f.Fn(ctx, b)
}

// RetryableError marks a generation failure that another attempt may fix.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the orchestrator treats it like a NEEDS_FIX verdict.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
