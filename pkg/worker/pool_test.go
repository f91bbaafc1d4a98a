package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/clock"
	"github.com/evergreenhq/journeys/pkg/executor"
	"github.com/evergreenhq/journeys/pkg/mocks"
	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence/file"
	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/registry"
	"github.com/evergreenhq/journeys/pkg/scheduler"
	"github.com/evergreenhq/journeys/pkg/testutil"
)

var testBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	ctx         context.Context
	persistence *file.Persistence
	scheduler   *scheduler.Memory
	clk         *clock.Fake
	action      *mocks.MockAction
	pool        *Pool
}

func newEnv(t *testing.T, journeyStatus models.JourneyStatus) *env {
	t.Helper()

	ctx := context.Background()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	def := testutil.LinearDocument(
		testutil.TriggerNode("welcome", nil),
		testutil.ActionNode("greet", "test", nil),
	)

	journey := &models.Journey{
		ID:             "j-1",
		Name:           "Welcome Series",
		OrganizationID: "org-1",
		Version:        1,
		Status:         journeyStatus,
		CreatedAt:      testBase,
		UpdatedAt:      testBase,
	}
	require.NoError(t, p.SaveJourney(ctx, journey))
	require.NoError(t, p.SaveJourneyVersion(ctx, "j-1", 1, def))

	action := &mocks.MockAction{}

	reg := registry.NewRegistry(nil)
	reg.RegisterAction(&mocks.MockActionFactory{ActionID: "test", Action: action})

	sched := scheduler.NewMemory()
	clk := clock.NewFake(testBase)

	exec := executor.New(executor.Config{
		Persistence: p,
		Scheduler:   sched,
		Registry:    reg,
		Attributes:  protocol.StaticAttributes{"subject-1": {"plan": "pro"}},
		Clock:       clk,
	})

	pool := NewPool(Config{
		ID:           "worker-test",
		Persistence:  p,
		Scheduler:    sched,
		Executor:     exec,
		Clock:        clk,
		PollInterval: 5 * time.Millisecond,
		Concurrency:  2,
	})

	return &env{
		ctx:         ctx,
		persistence: p,
		scheduler:   sched,
		clk:         clk,
		action:      action,
		pool:        pool,
	}
}

func (e *env) enroll(t *testing.T) *models.Enrollment {
	t.Helper()

	now := e.clk.Now()
	enrollment := &models.Enrollment{
		ID:             "e-1",
		JourneyID:      "j-1",
		JourneyVersion: 1,
		SubjectID:      "subject-1",
		CurrentNodeID:  "welcome",
		Status:         models.EnrollmentStatusRunning,
		EnteredAt:      now,
		UpdatedAt:      now,
	}
	enrollment.Visit("welcome", models.OutcomeEnrolled, "", 0, now)

	require.NoError(t, e.persistence.CreateEnrollment(e.ctx, enrollment, nil))

	return enrollment
}

// lease enqueues a work item and leases it through the scheduler, the way the
// poll loop receives items.
func (e *env) lease(t *testing.T, enrollmentID string) *models.WorkItem {
	t.Helper()

	now := e.clk.Now()
	require.NoError(t, e.scheduler.Enqueue(e.ctx, models.NewWorkItem(enrollmentID, "j-1", "welcome", now, now)))

	due, err := e.scheduler.DueBefore(e.ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	return due[0]
}

func TestDispatchAdvancesActiveJourney(t *testing.T) {
	e := newEnv(t, models.JourneyStatusActive)
	enrollment := e.enroll(t)
	item := e.lease(t, enrollment.ID)

	e.action.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{}, nil)

	e.pool.dispatch(e.ctx, item)

	got, err := e.persistence.EnrollmentByID(e.ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, got.Status)

	// The item is acknowledged, not redelivered.
	assert.Zero(t, e.scheduler.Pending())
}

func TestDispatchReleasesPausedJourneyItem(t *testing.T) {
	e := newEnv(t, models.JourneyStatusPaused)
	enrollment := e.enroll(t)
	item := e.lease(t, enrollment.ID)

	e.pool.dispatch(e.ctx, item)

	// The item goes back to pending with its due time preserved, and the
	// enrollment is untouched.
	assert.Equal(t, 1, e.scheduler.Pending())

	due, err := e.scheduler.DueBefore(e.ctx, e.clk.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, item.DueAt, due[0].DueAt)

	got, err := e.persistence.EnrollmentByID(e.ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRunning, got.Status)
	e.action.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchDropsArchivedJourneyItem(t *testing.T) {
	e := newEnv(t, models.JourneyStatusArchived)
	enrollment := e.enroll(t)
	item := e.lease(t, enrollment.ID)

	e.pool.dispatch(e.ctx, item)

	assert.Zero(t, e.scheduler.Pending())
	e.action.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchDropsUnknownJourneyItem(t *testing.T) {
	e := newEnv(t, models.JourneyStatusActive)

	now := e.clk.Now()
	require.NoError(t, e.scheduler.Enqueue(e.ctx, models.NewWorkItem("e-ghost", "j-ghost", "welcome", now, now)))

	due, err := e.scheduler.DueBefore(e.ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	e.pool.dispatch(e.ctx, due[0])

	assert.Zero(t, e.scheduler.Pending())
}

func TestStartDrainsDueWorkUntilCancelled(t *testing.T) {
	e := newEnv(t, models.JourneyStatusActive)
	enrollment := e.enroll(t)

	now := e.clk.Now()
	require.NoError(t, e.scheduler.Enqueue(e.ctx, models.NewWorkItem(enrollment.ID, "j-1", "welcome", now, now)))

	e.action.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{}, nil)

	ctx, cancel := context.WithCancel(e.ctx)

	done := make(chan error, 1)
	go func() {
		done <- e.pool.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		got, err := e.persistence.EnrollmentByID(e.ctx, enrollment.ID)

		return err == nil && got.Status == models.EnrollmentStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
