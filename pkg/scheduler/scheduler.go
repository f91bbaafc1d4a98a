// Package scheduler maintains the durable, time-ordered queue of pending
// enrollment advancements.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/evergreenhq/journeys/pkg/models"
)

// ErrUnavailable indicates the scheduler's backing store could not serve the
// request. Callers must retry; work is never silently dropped.
var ErrUnavailable = errors.New("scheduler unavailable")

// Scheduler is the work queue between the executor and the worker pool.
//
// Delivery is at least once: DueBefore leases items without removing them,
// and an item is only removed once Ack confirms its outcome is durably
// recorded. Unacked leases expire and the item is delivered again; the
// executor's staleness check makes redelivery a no-op.
//
// Ordering: items are delivered in DueAt order; items with equal DueAt are
// delivered in FIFO order of their original enqueue. No item is delivered
// before its DueAt.
type Scheduler interface {
	Enqueue(ctx context.Context, item *models.WorkItem) error
	DueBefore(ctx context.Context, now time.Time) ([]*models.WorkItem, error)
	Ack(ctx context.Context, item *models.WorkItem) error
	Release(ctx context.Context, item *models.WorkItem) error
	// Cancel drops every pending item for an enrollment, leased or not.
	Cancel(ctx context.Context, enrollmentID string) error
	Close(ctx context.Context) error
}
