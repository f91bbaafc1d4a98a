package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func testJourney(id string) *models.Journey {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	return &models.Journey{
		ID:             id,
		Name:           "Welcome Series",
		OrganizationID: "org-1",
		Definition:     map[string]any{"entry": "t"},
		Version:        1,
		Status:         models.JourneyStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testEnrollment(id, journeyID, subjectID string, status models.EnrollmentStatus) *models.Enrollment {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	return &models.Enrollment{
		ID:             id,
		JourneyID:      journeyID,
		JourneyVersion: 1,
		SubjectID:      subjectID,
		CurrentNodeID:  "t",
		Status:         status,
		EnteredAt:      now,
		UpdatedAt:      now,
	}
}

func TestJourneyRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	journey := testJourney("j-1")
	require.NoError(t, p.SaveJourney(ctx, journey))

	got, err := p.JourneyByID(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, journey.Name, got.Name)
	assert.Equal(t, journey.Status, got.Status)

	all, err := p.Journeys(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJourneyByIDNotFound(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.JourneyByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestJourneyVersionSnapshots(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	v1 := map[string]any{"entry": "t", "rev": "one"}
	v2 := map[string]any{"entry": "t", "rev": "two"}

	require.NoError(t, p.SaveJourneyVersion(ctx, "j-1", 1, v1))
	require.NoError(t, p.SaveJourneyVersion(ctx, "j-1", 2, v2))

	got, err := p.JourneyDefinition(ctx, "j-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", got["rev"])

	got, err = p.JourneyDefinition(ctx, "j-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "two", got["rev"])

	_, err = p.JourneyDefinition(ctx, "j-1", 3)
	require.Error(t, err)
}

func TestCreateEnrollmentBlockingConflict(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	blocking := []models.EnrollmentStatus{
		models.EnrollmentStatusRunning,
		models.EnrollmentStatusWaiting,
		models.EnrollmentStatusCompleted,
	}

	first := testEnrollment("e-1", "j-1", "subject-1", models.EnrollmentStatusRunning)
	require.NoError(t, p.CreateEnrollment(ctx, first, blocking))

	dup := testEnrollment("e-2", "j-1", "subject-1", models.EnrollmentStatusRunning)
	err := p.CreateEnrollment(ctx, dup, blocking)
	require.Error(t, err)
	assert.True(t, persistence.IsEnrollmentConflict(err))

	// A different subject in the same journey is unaffected.
	other := testEnrollment("e-3", "j-1", "subject-2", models.EnrollmentStatusRunning)
	require.NoError(t, p.CreateEnrollment(ctx, other, blocking))

	// With no blocking set, a duplicate is allowed.
	again := testEnrollment("e-4", "j-1", "subject-1", models.EnrollmentStatusRunning)
	require.NoError(t, p.CreateEnrollment(ctx, again, nil))
}

func TestCreateEnrollmentFailedDoesNotBlockWhenExcluded(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	failed := testEnrollment("e-1", "j-1", "subject-1", models.EnrollmentStatusFailed)
	require.NoError(t, p.CreateEnrollment(ctx, failed, nil))

	// Blocking set without the failed status lets the subject back in.
	blocking := []models.EnrollmentStatus{
		models.EnrollmentStatusRunning,
		models.EnrollmentStatusWaiting,
		models.EnrollmentStatusCompleted,
	}

	retry := testEnrollment("e-2", "j-1", "subject-1", models.EnrollmentStatusRunning)
	require.NoError(t, p.CreateEnrollment(ctx, retry, blocking))
}

func TestUpdateEnrollmentPersistsHistory(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	enrollment := testEnrollment("e-1", "j-1", "subject-1", models.EnrollmentStatusRunning)
	require.NoError(t, p.CreateEnrollment(ctx, enrollment, nil))

	enrollment.Visit("t", models.OutcomeEnrolled, "", 0, enrollment.EnteredAt)
	enrollment.Visit("a", models.OutcomeOK, "", 0, enrollment.EnteredAt.Add(time.Second))
	enrollment.Status = models.EnrollmentStatusCompleted
	require.NoError(t, p.UpdateEnrollment(ctx, enrollment))

	got, err := p.EnrollmentByID(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, models.OutcomeEnrolled, got.History[0].Outcome)
	assert.Equal(t, models.OutcomeOK, got.History[1].Outcome)
}

func TestNonTerminalEnrollments(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	require.NoError(t, p.CreateEnrollment(ctx, testEnrollment("e-1", "j-1", "s-1", models.EnrollmentStatusRunning), nil))
	require.NoError(t, p.CreateEnrollment(ctx, testEnrollment("e-2", "j-1", "s-2", models.EnrollmentStatusWaiting), nil))
	require.NoError(t, p.CreateEnrollment(ctx, testEnrollment("e-3", "j-1", "s-3", models.EnrollmentStatusCompleted), nil))
	require.NoError(t, p.CreateEnrollment(ctx, testEnrollment("e-4", "j-2", "s-1", models.EnrollmentStatusRunning), nil))

	open, err := p.NonTerminalEnrollments(ctx, "j-1")
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestActiveEnrollment(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	require.NoError(t, p.CreateEnrollment(ctx, testEnrollment("e-1", "j-1", "s-1", models.EnrollmentStatusWaiting), nil))

	got, err := p.ActiveEnrollment(ctx, "j-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "e-1", got.ID)

	_, err = p.ActiveEnrollment(ctx, "j-1", "s-2")
	require.Error(t, err)
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}
