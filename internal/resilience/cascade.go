// Package resilience provides failure-handling primitives.
//
// [Cascade] runs ordered construction attempts on hosts whose capability
// reports cannot be trusted. [Breaker] is a three-state circuit breaker
// (closed, open, half-open) that stops calls to a backend that keeps
// failing.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllFailed is matched by every [CascadeError].
var ErrAllFailed = errors.New("all attempts failed")

// Step is one named attempt in a [Cascade].
type Step[T any] struct {
	// Name identifies the attempt in diagnostics, e.g. "default-no-options".
	Name string

	// Build produces the value. A panic inside Build is recovered and treated
	// as a failure of this step.
	Build func() (T, error)
}

// StepError records why a single step failed.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }

// CascadeError is returned by [Cascade] when every step failed. It keeps the
// diagnostic of each attempt in the order the steps ran.
type CascadeError struct {
	Steps []StepError
}

func (e *CascadeError) Error() string {
	parts := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		parts[i] = s.Error()
	}
	return fmt.Sprintf("all %d attempts failed: %s", len(e.Steps), strings.Join(parts, "; "))
}

// Unwrap exposes the per-step errors to [errors.Is] and [errors.As].
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, len(e.Steps))
	for i, s := range e.Steps {
		errs[i] = s.Err
	}
	return errs
}

// Is reports whether target is [ErrAllFailed].
func (e *CascadeError) Is(target error) bool {
	return target == ErrAllFailed
}

// StepNames returns the names of the attempted steps in order.
func (e *CascadeError) StepNames() []string {
	names := make([]string, len(e.Steps))
	for i, s := range e.Steps {
		names[i] = s.Step
	}
	return names
}

// Cascade runs steps in order and returns the first successful value together
// with the name of the step that produced it. Steps after the first success
// are never run. When every step fails the returned error is a *[CascadeError]
// carrying each step's diagnostic.
func Cascade[T any](steps ...Step[T]) (T, string, error) {
	var (
		zero   T
		failed = &CascadeError{Steps: make([]StepError, 0, len(steps))}
	)
	for _, step := range steps {
		v, err := runStep(step)
		if err == nil {
			if len(failed.Steps) > 0 {
				slog.Debug("cascade recovered", "step", step.Name, "failed_before", len(failed.Steps))
			}
			return v, step.Name, nil
		}
		slog.Warn("cascade step failed, trying next", "step", step.Name, "error", err)
		failed.Steps = append(failed.Steps, StepError{Step: step.Name, Err: err})
	}
	if len(failed.Steps) == 0 {
		return zero, "", fmt.Errorf("resilience: cascade has no steps: %w", ErrAllFailed)
	}
	return zero, "", failed
}

func runStep[T any](step Step[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if step.Build == nil {
		return v, errors.New("no build function")
	}
	return step.Build()
}
