// Package models defines the core domain models for journey execution.
package models

import "time"

// JourneyStatus represents the lifecycle state of a journey.
type JourneyStatus string

const (
	JourneyStatusDraft    JourneyStatus = "draft"    // Editable, not enrolling
	JourneyStatusActive   JourneyStatus = "active"   // Enrolling and dispatching
	JourneyStatusPaused   JourneyStatus = "paused"   // Dispatch suspended, work stays queued
	JourneyStatusArchived JourneyStatus = "archived" // Terminal, no further transitions
)

// Terminal reports whether the status permits no further transitions.
func (s JourneyStatus) Terminal() bool {
	return s == JourneyStatusArchived
}

// Journey is an organization-owned automation over a versioned definition.
//
// The definition document is immutable once published at a version: edits
// produce a new version so historical enrollments stay reproducible.
type Journey struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"              validate:"required,min=3"`
	OrganizationID   string         `json:"organization_id"   validate:"required"`
	Definition       map[string]any `json:"definition"`
	Version          int            `json:"version"`
	Status           JourneyStatus  `json:"status"            validate:"required"`
	RunMultipleTimes bool           `json:"run_multiple_times"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	PublishedAt      *time.Time     `json:"published_at,omitempty"`
	ArchivedAt       *time.Time     `json:"archived_at,omitempty"`
}

// Dispatchable reports whether the scheduler may hand out work for this
// journey's enrollments.
func (j *Journey) Dispatchable() bool {
	return j.Status == JourneyStatusActive
}
