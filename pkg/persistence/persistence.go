// Package persistence provides the storage abstraction for journeys and
// enrollments.
package persistence

import (
	"context"

	"github.com/evergreenhq/journeys/pkg/models"
)

// Persistence is the engine's single source of truth. Enrollments are
// mutated only by the executor under per-enrollment exclusion; history is
// append-only and saved atomically with the position/status mutation.
type Persistence interface {
	Journeys(ctx context.Context) ([]*models.Journey, error)
	JourneyByID(ctx context.Context, id string) (*models.Journey, error)
	SaveJourney(ctx context.Context, journey *models.Journey) error

	// SaveJourneyVersion snapshots the definition published at a version.
	// Published definitions are immutable: enrollments pin the version they
	// entered under and replay against that exact snapshot.
	SaveJourneyVersion(ctx context.Context, journeyID string, version int, definition map[string]any) error
	JourneyDefinition(ctx context.Context, journeyID string, version int) (map[string]any, error)

	// CreateEnrollment persists a new enrollment. The create fails with
	// ErrEnrollmentConflict if the subject already has an enrollment in the
	// same journey whose status is in blocking. The check and the insert are
	// atomic. A nil blocking set inserts unconditionally.
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment, blocking []models.EnrollmentStatus) error
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	// ActiveEnrollment returns the subject's non-terminal enrollment in the
	// journey, or ErrEnrollmentNotFound.
	ActiveEnrollment(ctx context.Context, journeyID, subjectID string) (*models.Enrollment, error)
	EnrollmentsByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error)
	NonTerminalEnrollments(ctx context.Context, journeyID string) ([]*models.Enrollment, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
