package models

import "time"

// EnrollmentStatus represents the state of one subject's run through a journey.
type EnrollmentStatus string

const (
	EnrollmentStatusRunning   EnrollmentStatus = "running"
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting" // Parked on a delay or retry backoff
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Terminal reports whether the enrollment can never advance again.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusFailed || s == EnrollmentStatusCancelled
}

// Node visit outcomes recorded in enrollment history.
const (
	OutcomeEnrolled  = "enrolled"  // Trigger satisfied, enrollment created
	OutcomeOK        = "ok"        // Node completed, advanced to successor
	OutcomeBranch    = "branch"    // Condition matched, detail carries the label
	OutcomeWaiting   = "waiting"   // Delay scheduled, detail carries the wake time
	OutcomeRetrying  = "retrying"  // Retryable action failure, backoff scheduled
	OutcomeFailed    = "failed"    // Enrollment failed at this node
	OutcomeCancelled = "cancelled" // Enrollment cancelled at this node
)

// Failure reasons surfaced in history and on the enrollment itself.
const (
	ReasonNoMatchingBranch = "NoMatchingBranch"
)

// HistoryEntry is one immutable record of a node visit and its outcome.
type HistoryEntry struct {
	NodeID    string    `json:"node_id"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Enrollment is one subject's stateful run through one journey version.
//
// History is append-only and every position or status mutation carries
// exactly one new entry, so a crash can never leave a visited node without
// its outcome. Terminal enrollments are retained for audit, never deleted.
type Enrollment struct {
	ID             string           `json:"id"`
	JourneyID      string           `json:"journey_id"       validate:"required"`
	JourneyVersion int              `json:"journey_version"  validate:"min=1"`
	SubjectID      string           `json:"subject_id"       validate:"required"`
	CurrentNodeID  string           `json:"current_node_id"`
	Status         EnrollmentStatus `json:"status"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	EnteredAt      time.Time        `json:"entered_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	NextWakeAt     *time.Time       `json:"next_wake_at,omitempty"`
	History        []HistoryEntry   `json:"history"`
}

// Visit appends a history entry for the current node.
func (e *Enrollment) Visit(nodeID, outcome, detail string, attempt int, at time.Time) {
	e.History = append(e.History, HistoryEntry{
		NodeID:    nodeID,
		Outcome:   outcome,
		Detail:    detail,
		Attempt:   attempt,
		Timestamp: at,
	})
	e.UpdatedAt = at
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (e *Enrollment) Clone() *Enrollment {
	clone := *e

	if e.NextWakeAt != nil {
		at := *e.NextWakeAt
		clone.NextWakeAt = &at
	}

	clone.History = make([]HistoryEntry, len(e.History))
	copy(clone.History, e.History)

	return &clone
}
