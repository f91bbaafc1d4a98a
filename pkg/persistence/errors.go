// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations use.
var (
	// ErrJourneyNotFound indicates a journey was not found by the given identifier.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEnrollmentConflict indicates the subject already has a non-terminal
	// enrollment in the journey and the journey does not allow re-entry.
	ErrEnrollmentConflict = errors.New("subject already has an active enrollment")

	// ErrInvalidJourneyStatus indicates an invalid journey status was provided.
	ErrInvalidJourneyStatus = errors.New("invalid journey status")
)

// JourneyError wraps journey-related storage errors with operation context.
type JourneyError struct {
	Op        string // Operation being performed (e.g., "JourneyByID", "SaveJourney")
	JourneyID string
	Err       error
}

func (e *JourneyError) Error() string {
	return fmt.Sprintf("%s operation failed for journey %s: %v", e.Op, e.JourneyID, e.Err)
}

func (e *JourneyError) Unwrap() error {
	return e.Err
}

func (e *JourneyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJourneyError creates a new journey error with context.
func NewJourneyError(op, journeyID string, err error) *JourneyError {
	return &JourneyError{Op: op, JourneyID: journeyID, Err: err}
}

// EnrollmentError wraps enrollment-related storage errors with context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	JourneyID    string
	SubjectID    string
	Err          error
}

func (e *EnrollmentError) Error() string {
	target := e.EnrollmentID
	if target == "" {
		target = fmt.Sprintf("journey %s subject %s", e.JourneyID, e.SubjectID)
	}

	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, target, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsJourneyNotFound checks if an error indicates a journey was not found.
func IsJourneyNotFound(err error) bool {
	return errors.Is(err, ErrJourneyNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsEnrollmentConflict checks if an error indicates the uniqueness invariant
// rejected an enrollment attempt.
func IsEnrollmentConflict(err error) bool {
	return errors.Is(err, ErrEnrollmentConflict)
}
