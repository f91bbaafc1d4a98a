// Package events defines the lifecycle notifications the engine publishes
// for journeys and enrollments.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries all engine events.
const Topic = "journeys.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Journey lifecycle events.
	JourneyPublishedEvent EventType = "journey.published"
	JourneyPausedEvent    EventType = "journey.paused"
	JourneyResumedEvent   EventType = "journey.resumed"
	JourneyArchivedEvent  EventType = "journey.archived"

	// Enrollment lifecycle events.
	EnrollmentStartedEvent   EventType = "enrollment.started"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
	EnrollmentCancelledEvent EventType = "enrollment.cancelled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JourneyID string         `json:"journey_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a fresh event envelope for a journey.
func NewBaseEvent(eventType EventType, journeyID string) BaseEvent {
	return BaseEvent{
		ID:        "evt-" + uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JourneyID: journeyID,
	}
}

type JourneyPublished struct {
	BaseEvent

	Version int `json:"version"`
}

func (e JourneyPublished) GetType() EventType {
	return JourneyPublishedEvent
}

type JourneyPaused struct {
	BaseEvent
}

func (e JourneyPaused) GetType() EventType {
	return JourneyPausedEvent
}

type JourneyResumed struct {
	BaseEvent
}

func (e JourneyResumed) GetType() EventType {
	return JourneyResumedEvent
}

type JourneyArchived struct {
	BaseEvent

	CancelledEnrollments int `json:"cancelled_enrollments"`
}

func (e JourneyArchived) GetType() EventType {
	return JourneyArchivedEvent
}

type EnrollmentStarted struct {
	BaseEvent

	EnrollmentID   string `json:"enrollment_id"`
	SubjectID      string `json:"subject_id"`
	JourneyVersion int    `json:"journey_version"`
}

func (e EnrollmentStarted) GetType() EventType {
	return EnrollmentStartedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string        `json:"enrollment_id"`
	SubjectID    string        `json:"subject_id"`
	Duration     time.Duration `json:"duration"`
	NodesVisited int           `json:"nodes_visited"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
	NodeID       string `json:"node_id"`
	Reason       string `json:"reason"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type EnrollmentCancelled struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	SubjectID    string `json:"subject_id"`
}

func (e EnrollmentCancelled) GetType() EventType {
	return EnrollmentCancelledEvent
}
