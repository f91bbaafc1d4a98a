package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkItem is a scheduled future advancement for one enrollment.
//
// Items are delivered at least once; the executor treats an item whose
// NodeID no longer matches the enrollment's current position as already
// handled and acknowledges it without effect.
type WorkItem struct {
	ID           string    `json:"id"`
	EnrollmentID string    `json:"enrollment_id"`
	JourneyID    string    `json:"journey_id"`
	NodeID       string    `json:"node_id"`
	DueAt        time.Time `json:"due_at"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// NewWorkItem creates a work item due at the given time.
func NewWorkItem(enrollmentID, journeyID, nodeID string, dueAt, now time.Time) *WorkItem {
	return &WorkItem{
		ID:           "wi-" + uuid.New().String(),
		EnrollmentID: enrollmentID,
		JourneyID:    journeyID,
		NodeID:       nodeID,
		DueAt:        dueAt,
		EnqueuedAt:   now,
	}
}
