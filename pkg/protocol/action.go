// Package protocol defines the contracts between the execution engine and
// its external collaborators: action executors and subject attribute sources.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FailureKind classifies an action failure for the retry coordinator.
type FailureKind string

const (
	// FailureRetryable failures are re-attempted with backoff.
	FailureRetryable FailureKind = "retryable"
	// FailureTerminal failures skip retry and fail the enrollment immediately.
	FailureTerminal FailureKind = "terminal"
)

// ActionFailure is the classified failure an action collaborator returns.
// Errors that are not ActionFailures are treated as retryable.
type ActionFailure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *ActionFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s action failure: %s: %v", f.Kind, f.Reason, f.Err)
	}

	return fmt.Sprintf("%s action failure: %s", f.Kind, f.Reason)
}

func (f *ActionFailure) Unwrap() error {
	return f.Err
}

// Retryable wraps err as a retryable action failure.
func Retryable(reason string, err error) *ActionFailure {
	return &ActionFailure{Kind: FailureRetryable, Reason: reason, Err: err}
}

// Terminal wraps err as a terminal action failure.
func Terminal(reason string, err error) *ActionFailure {
	return &ActionFailure{Kind: FailureTerminal, Reason: reason, Err: err}
}

// IsTerminal reports whether err is classified as a terminal action failure.
func IsTerminal(err error) bool {
	var failure *ActionFailure

	return errors.As(err, &failure) && failure.Kind == FailureTerminal
}

// FailureReason extracts the collaborator's reason from err, falling back to
// the error text.
func FailureReason(err error) string {
	var failure *ActionFailure
	if errors.As(err, &failure) {
		return failure.Reason
	}

	return err.Error()
}

// ActionSpec identifies the action an enrollment reached, as declared in the
// journey definition. The engine does not know what the action does.
type ActionSpec struct {
	NodeID string
	Type   string
	Config map[string]any
}

// SubjectContext carries the subject an action applies to.
type SubjectContext struct {
	SubjectID      string
	JourneyID      string
	EnrollmentID   string
	JourneyVersion int
	Attributes     map[string]any
}

// Action is a side-effecting collaborator invoked by the executor. Execute
// returns output data on success, or an error; *ActionFailure errors carry
// the Retryable/Terminal classification.
type Action interface {
	Execute(ctx context.Context, spec ActionSpec, sctx SubjectContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates action instances and names the action type it serves.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
}
