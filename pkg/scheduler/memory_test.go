package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evergreenhq/journeys/pkg/models"
)

func TestMemoryDispatchOrdering(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Later due time enqueued first, plus two items due at the same instant
	// to check FIFO tiebreak by enqueue order.
	late := models.NewWorkItem("e-late", "j", "n", base.Add(time.Hour), base)
	first := models.NewWorkItem("e-first", "j", "n", base, base)
	second := models.NewWorkItem("e-second", "j", "n", base, base.Add(time.Second))

	require.NoError(t, sched.Enqueue(ctx, late))
	require.NoError(t, sched.Enqueue(ctx, first))
	require.NoError(t, sched.Enqueue(ctx, second))

	due, err := sched.DueBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "e-first", due[0].EnrollmentID)
	assert.Equal(t, "e-second", due[1].EnrollmentID)

	// The hour-out item becomes due later.
	due, err = sched.DueBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e-late", due[0].EnrollmentID)
}

func TestMemoryNeverDispatchesEarly(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	item := models.NewWorkItem("e-1", "j", "n", base.Add(time.Hour), base)
	require.NoError(t, sched.Enqueue(ctx, item))

	due, err := sched.DueBefore(ctx, base.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryLeasePreventsDoubleDelivery(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	item := models.NewWorkItem("e-1", "j", "n", base, base)
	require.NoError(t, sched.Enqueue(ctx, item))

	due, err := sched.DueBefore(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)

	due, err = sched.DueBefore(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryExpiredLeaseRedelivers(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	item := models.NewWorkItem("e-1", "j", "n", base, base)
	require.NoError(t, sched.Enqueue(ctx, item))

	_, err := sched.DueBefore(ctx, base)
	require.NoError(t, err)

	// The worker that leased the item crashed; after the lease times out
	// the item goes back to pending.
	due, err := sched.DueBefore(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, item.ID, due[0].ID)
}

func TestMemoryAckRemovesDurably(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	item := models.NewWorkItem("e-1", "j", "n", base, base)
	require.NoError(t, sched.Enqueue(ctx, item))

	due, err := sched.DueBefore(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, sched.Ack(ctx, item))
	assert.Zero(t, sched.Pending())
}

func TestMemoryReleaseKeepsDueAt(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	item := models.NewWorkItem("e-1", "j", "n", base, base)
	require.NoError(t, sched.Enqueue(ctx, item))

	_, err := sched.DueBefore(ctx, base)
	require.NoError(t, err)

	require.NoError(t, sched.Release(ctx, item))

	due, err := sched.DueBefore(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, base, due[0].DueAt)
}

func TestMemoryCancelDropsEnrollmentItems(t *testing.T) {
	ctx := context.Background()
	sched := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sched.Enqueue(ctx, models.NewWorkItem("e-1", "j", "a", base, base)))
	require.NoError(t, sched.Enqueue(ctx, models.NewWorkItem("e-1", "j", "b", base.Add(time.Hour), base)))
	require.NoError(t, sched.Enqueue(ctx, models.NewWorkItem("e-2", "j", "a", base, base)))

	require.NoError(t, sched.Cancel(ctx, "e-1"))

	assert.Equal(t, 1, sched.Pending())

	due, err := sched.DueBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e-2", due[0].EnrollmentID)
}
