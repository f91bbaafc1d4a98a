// Package worker pulls due work items from the scheduler and runs enrollment
// advancement across a pool of concurrent workers.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/evergreenhq/journeys/pkg/clock"
	"github.com/evergreenhq/journeys/pkg/executor"
	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence"
	"github.com/evergreenhq/journeys/pkg/scheduler"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultConcurrency  = 8
)

// Config wires the pool's collaborators. Persistence, Scheduler and
// Executor are required; the rest default.
type Config struct {
	ID          string
	Persistence persistence.Persistence
	Scheduler   scheduler.Scheduler
	Executor    *executor.Executor
	Clock       clock.Clock
	Logger      *slog.Logger

	// PollInterval is how often the scheduler is sampled for due work. It
	// affects dispatch latency only, never correctness.
	PollInterval time.Duration
	Concurrency  int
}

// Pool polls the scheduler and fans due work items out to workers. Items are
// acknowledged only after their outcome is durably recorded; infrastructure
// faults release the item for redelivery.
type Pool struct {
	id          string
	persistence persistence.Persistence
	scheduler   scheduler.Scheduler
	executor    *executor.Executor
	clk         clock.Clock
	logger      *slog.Logger

	pollInterval time.Duration
	concurrency  int
}

// NewPool creates a worker pool from the given configuration.
func NewPool(cfg Config) *Pool {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Pool{
		id:           cfg.ID,
		persistence:  cfg.Persistence,
		scheduler:    cfg.Scheduler,
		executor:     cfg.Executor,
		clk:          cfg.Clock,
		logger:       cfg.Logger.With("module", "worker", "worker_id", cfg.ID),
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
	}
}

// Start runs the poll loop until the context is cancelled. In-flight items
// finish before Start returns; unfinished leases expire back to pending.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool",
		"concurrency", p.concurrency, "poll_interval", p.pollInterval)

	items := make(chan *models.WorkItem)

	var wg sync.WaitGroup

	for range p.concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for item := range items {
				p.dispatch(ctx, item)
			}
		}()
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			p.poll(ctx, items)
		}
	}

	close(items)
	wg.Wait()

	p.logger.Info("Worker pool stopped")

	return nil
}

func (p *Pool) poll(ctx context.Context, items chan<- *models.WorkItem) {
	due, err := p.scheduler.DueBefore(ctx, p.clk.Now())
	if err != nil {
		if errors.Is(err, scheduler.ErrUnavailable) {
			p.logger.WarnContext(ctx, "Scheduler unavailable, will retry", "error", err)

			return
		}

		p.logger.ErrorContext(ctx, "Failed to poll scheduler", "error", err)

		return
	}

	for _, item := range due {
		select {
		case items <- item:
		case <-ctx.Done():
			// Leases on undelivered items expire back to pending.
			return
		}
	}
}

// dispatch runs one work item through the journey gate and the executor.
func (p *Pool) dispatch(ctx context.Context, item *models.WorkItem) {
	logger := p.logger.With(
		"work_item_id", item.ID,
		"journey_id", item.JourneyID,
		"enrollment_id", item.EnrollmentID,
	)

	journey, err := p.persistence.JourneyByID(ctx, item.JourneyID)
	if err != nil {
		if persistence.IsJourneyNotFound(err) {
			logger.WarnContext(ctx, "Work item references unknown journey, dropping")
			p.ack(ctx, logger, item)

			return
		}

		logger.ErrorContext(ctx, "Failed to load journey, releasing item", "error", err)
		p.release(ctx, logger, item)

		return
	}

	switch {
	case journey.Status == models.JourneyStatusArchived:
		// Archival cancels or drains enrollments first, so a leftover item
		// is a straggler with nothing left to advance.
		p.ack(ctx, logger, item)

		return
	case !journey.Dispatchable():
		// Paused journeys keep their work queued with dueAt preserved.
		p.release(ctx, logger, item)

		return
	}

	if err := p.executor.Advance(ctx, item); err != nil {
		logger.ErrorContext(ctx, "Advance failed, releasing item for redelivery", "error", err)
		p.release(ctx, logger, item)

		return
	}

	p.ack(ctx, logger, item)
}

func (p *Pool) ack(ctx context.Context, logger *slog.Logger, item *models.WorkItem) {
	if err := p.scheduler.Ack(ctx, item); err != nil {
		// The lease expires and the item is redelivered; advancement is
		// idempotent so the duplicate settles as a no-op.
		logger.WarnContext(ctx, "Failed to acknowledge work item", "error", err)
	}
}

func (p *Pool) release(ctx context.Context, logger *slog.Logger, item *models.WorkItem) {
	if err := p.scheduler.Release(ctx, item); err != nil {
		logger.WarnContext(ctx, "Failed to release work item", "error", err)
	}
}
