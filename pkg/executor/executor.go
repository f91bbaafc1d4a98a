// Package executor advances enrollments through their journey's flow graph,
// one node at a time, under per-enrollment exclusion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evergreenhq/journeys/pkg/clock"
	"github.com/evergreenhq/journeys/pkg/definition"
	"github.com/evergreenhq/journeys/pkg/eventbus"
	"github.com/evergreenhq/journeys/pkg/events"
	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/otelhelper"
	"github.com/evergreenhq/journeys/pkg/persistence"
	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/registry"
	"github.com/evergreenhq/journeys/pkg/retry"
	"github.com/evergreenhq/journeys/pkg/scheduler"
)

// errCancelledRace marks an advance aborted because the enrollment was
// cancelled between loading and committing.
var errCancelledRace = errors.New("enrollment cancelled during advance")

// Config wires the executor's collaborators. Persistence, Scheduler,
// Registry and Attributes are required; the rest default.
type Config struct {
	Persistence persistence.Persistence
	Scheduler   scheduler.Scheduler
	Registry    *registry.Registry
	Attributes  protocol.AttributeSource
	Clock       clock.Clock
	EventBus    eventbus.EventPublisher
	Policy      retry.Policy
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Executor advances one enrollment by as many nodes as it can until the
// enrollment suspends (delay, retry backoff) or terminates. Suspensions are
// re-scheduled WorkItems, never blocked goroutines.
type Executor struct {
	persistence persistence.Persistence
	scheduler   scheduler.Scheduler
	registry    *registry.Registry
	attrs       protocol.AttributeSource
	clk         clock.Clock
	bus         eventbus.EventPublisher
	policy      retry.Policy
	logger      *slog.Logger
	tracer      trace.Tracer
	locks       *keyedMutex
	graphs      *graphCache
}

// New creates an executor from the given configuration.
func New(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		persistence: cfg.Persistence,
		scheduler:   cfg.Scheduler,
		registry:    cfg.Registry,
		attrs:       cfg.Attributes,
		clk:         cfg.Clock,
		bus:         cfg.EventBus,
		policy:      cfg.Policy,
		logger:      cfg.Logger.With("module", "executor"),
		tracer:      cfg.Tracer,
		locks:       newKeyedMutex(),
		graphs:      newGraphCache(cfg.Persistence),
	}
}

// Advance processes one work item. A nil return means the item's outcome is
// durably recorded and the caller must acknowledge it; a non-nil return is
// an infrastructure fault and the caller must release the item for redelivery.
func (e *Executor) Advance(ctx context.Context, item *models.WorkItem) error {
	unlock := e.locks.Lock(item.EnrollmentID)
	defer unlock()

	logger := e.logger.With(
		"enrollment_id", item.EnrollmentID,
		"journey_id", item.JourneyID,
		"work_item_id", item.ID,
	)

	enrollment, err := e.persistence.EnrollmentByID(ctx, item.EnrollmentID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			logger.WarnContext(ctx, "Work item references unknown enrollment, dropping")

			return nil
		}

		return err
	}

	if stale := e.staleness(enrollment, item); stale {
		logger.DebugContext(ctx, "Duplicate dispatch for settled work item, acknowledging without effect")

		return nil
	}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "enrollment.advance",
			attribute.String(otelhelper.JourneyIDKey, item.JourneyID),
			attribute.String(otelhelper.EnrollmentIDKey, item.EnrollmentID),
			attribute.String(otelhelper.NodeIDKey, item.NodeID),
		)
		defer span.End()
	}

	graph, err := e.graphs.Get(ctx, enrollment.JourneyID, enrollment.JourneyVersion)
	if err != nil {
		return err
	}

	err = e.run(ctx, logger, graph, enrollment.Clone(), item)
	if err != nil && !errors.Is(err, errCancelledRace) {
		if e.tracer != nil {
			otelhelper.RecordError(trace.SpanFromContext(ctx), err)
		}
	}
	if errors.Is(err, errCancelledRace) {
		logger.InfoContext(ctx, "Enrollment cancelled mid-advance, mutation aborted")

		return nil
	}

	return err
}

// staleness implements idempotent acknowledgment for at-least-once delivery:
// a duplicate of an item the enrollment already moved past is a no-op.
func (e *Executor) staleness(enrollment *models.Enrollment, item *models.WorkItem) bool {
	if enrollment.Status.Terminal() {
		return true
	}

	if enrollment.Status == models.EnrollmentStatusWaiting {
		if enrollment.CurrentNodeID != item.NodeID {
			return true
		}

		// A duplicate from an earlier lap through the same delay node is
		// due before the wake the enrollment is now parked on.
		if enrollment.NextWakeAt != nil && item.DueAt.Before(*enrollment.NextWakeAt) {
			return true
		}
	}

	// Running enrollments resume from their current node: a crashed advance
	// leaves the enrollment mid-flight, and the redelivered item picks the
	// chain back up without revisiting committed history.
	return false
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, graph *definition.Graph, enrollment *models.Enrollment, item *models.WorkItem) error {
	waking := enrollment.Status == models.EnrollmentStatusWaiting
	enrollment.Status = models.EnrollmentStatusRunning
	enrollment.NextWakeAt = nil

	for {
		node, ok := graph.Node(enrollment.CurrentNodeID)
		if !ok {
			return e.fail(ctx, logger, enrollment, enrollment.CurrentNodeID, 0,
				fmt.Sprintf("node %s missing from definition version %d", enrollment.CurrentNodeID, enrollment.JourneyVersion))
		}

		switch node.Kind {
		case definition.NodeKindTrigger:
			// The trigger fired at enrollment time; pass through.
			next, ok := graph.Next(node.ID, "")
			if !ok {
				return e.complete(ctx, logger, enrollment)
			}

			enrollment.CurrentNodeID = next.ID

		case definition.NodeKindCondition:
			next, err := e.branch(ctx, logger, graph, enrollment, node)
			if err != nil {
				return err
			}

			if next == "" {
				return nil // enrollment failed with NoMatchingBranch
			}

			enrollment.CurrentNodeID = next

		case definition.NodeKindDelay:
			if waking && node.ID == item.NodeID {
				waking = false

				next, ok := graph.Next(node.ID, "")
				if !ok {
					return e.complete(ctx, logger, enrollment)
				}

				enrollment.CurrentNodeID = next.ID

				continue
			}

			return e.park(ctx, logger, enrollment, node)

		case definition.NodeKindAction:
			attempt := 0
			if waking && node.ID == item.NodeID {
				waking = false
				attempt = item.Attempt
			}

			next, err := e.act(ctx, logger, graph, enrollment, node, attempt)
			if err != nil {
				return err
			}

			if next == "" {
				return nil // suspended on backoff or failed terminally
			}

			if graph.Terminal(node.ID) {
				return e.complete(ctx, logger, enrollment)
			}

			enrollment.CurrentNodeID = next
		}

		waking = false
	}
}

// branch evaluates condition branches in declared order; the first match
// wins. Returns the id of the next node, or "" after failing the enrollment.
func (e *Executor) branch(ctx context.Context, logger *slog.Logger, graph *definition.Graph, enrollment *models.Enrollment, node *definition.Node) (string, error) {
	attrs, err := e.attrs.Attributes(ctx, enrollment.SubjectID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve attributes for subject %s: %w", enrollment.SubjectID, err)
	}

	label := ""

	for _, b := range node.Branches {
		matched, err := b.Predicate.Evaluate(attrs)
		if err != nil {
			return "", e.fail(ctx, logger, enrollment, node.ID, 0,
				fmt.Sprintf("branch %s predicate: %v", b.Label, err))
		}

		if matched {
			label = b.Label

			break
		}
	}

	if label == "" {
		if !node.HasDefault {
			return "", e.fail(ctx, logger, enrollment, node.ID, 0, models.ReasonNoMatchingBranch)
		}

		label = "default"
	}

	next, ok := graph.Next(node.ID, label)
	if !ok {
		return "", e.fail(ctx, logger, enrollment, node.ID, 0,
			fmt.Sprintf("no edge for branch %s", label))
	}

	enrollment.Visit(node.ID, models.OutcomeBranch, label, 0, e.clk.Now())
	enrollment.CurrentNodeID = next.ID

	if err := e.commit(ctx, enrollment); err != nil {
		return "", err
	}

	return next.ID, nil
}

// park suspends the enrollment on a delay node and schedules its wake.
func (e *Executor) park(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, node *definition.Node) error {
	now := e.clk.Now()
	wake := node.NextWake(now)

	enrollment.Visit(node.ID, models.OutcomeWaiting, wake.Format(time.RFC3339), 0, now)
	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.NextWakeAt = &wake

	if err := e.commit(ctx, enrollment); err != nil {
		return err
	}

	wakeItem := models.NewWorkItem(enrollment.ID, enrollment.JourneyID, node.ID, wake, now)
	if err := e.scheduler.Enqueue(ctx, wakeItem); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Enrollment parked on delay node",
		"node_id", node.ID, "wake_at", wake)

	return nil
}

// act runs an action node through the retry policy. Returns the id of the
// next node, or "" when the enrollment suspended on backoff or failed.
func (e *Executor) act(ctx context.Context, logger *slog.Logger, graph *definition.Graph, enrollment *models.Enrollment, node *definition.Node, attempt int) (string, error) {
	attrs, err := e.attrs.Attributes(ctx, enrollment.SubjectID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve attributes for subject %s: %w", enrollment.SubjectID, err)
	}

	action, err := e.registry.CreateAction(node.ActionType, node.ActionConfig)
	if err != nil {
		return "", e.fail(ctx, logger, enrollment, node.ID, attempt, err.Error())
	}

	spec := protocol.ActionSpec{NodeID: node.ID, Type: node.ActionType, Config: node.ActionConfig}
	sctx := protocol.SubjectContext{
		SubjectID:      enrollment.SubjectID,
		JourneyID:      enrollment.JourneyID,
		EnrollmentID:   enrollment.ID,
		JourneyVersion: enrollment.JourneyVersion,
		Attributes:     attrs,
	}

	_, execErr := action.Execute(ctx, spec, sctx, logger.With("node_id", node.ID, "action_type", node.ActionType))
	if execErr == nil {
		enrollment.Visit(node.ID, models.OutcomeOK, "", attempt, e.clk.Now())

		if graph.Terminal(node.ID) {
			// complete() commits the final visit together with the status.
			return node.ID, nil
		}

		// The successor position lands in the same write as the OK entry, so
		// a redelivered item resumes past the action instead of re-running
		// its side effect.
		next, _ := graph.Next(node.ID, "")
		enrollment.CurrentNodeID = next.ID

		if err := e.commit(ctx, enrollment); err != nil {
			return "", err
		}

		return next.ID, nil
	}

	reason := protocol.FailureReason(execErr)

	if protocol.IsTerminal(execErr) || e.policy.Exhausted(attempt) {
		return "", e.fail(ctx, logger, enrollment, node.ID, attempt, reason)
	}

	return "", e.backoff(ctx, logger, enrollment, node, attempt, reason)
}

// backoff re-schedules a retryable action failure per the retry policy.
func (e *Executor) backoff(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, node *definition.Node, attempt int, reason string) error {
	now := e.clk.Now()
	wake := now.Add(e.policy.Backoff(attempt))

	enrollment.Visit(node.ID, models.OutcomeRetrying, reason, attempt, now)
	enrollment.Status = models.EnrollmentStatusWaiting
	enrollment.NextWakeAt = &wake

	if err := e.commit(ctx, enrollment); err != nil {
		return err
	}

	retryItem := models.NewWorkItem(enrollment.ID, enrollment.JourneyID, node.ID, wake, now)
	retryItem.Attempt = attempt + 1

	if err := e.scheduler.Enqueue(ctx, retryItem); err != nil {
		return err
	}

	logger.WarnContext(ctx, "Action failed, retry scheduled",
		"node_id", node.ID, "attempt", attempt, "retry_at", wake, "reason", reason)

	return nil
}

func (e *Executor) complete(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment) error {
	now := e.clk.Now()

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.NextWakeAt = nil
	enrollment.UpdatedAt = now

	if err := e.commit(ctx, enrollment); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Enrollment completed",
		"nodes_visited", len(enrollment.History))

	e.publish(ctx, logger, enrollment.JourneyID, events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		Duration:     now.Sub(enrollment.EnteredAt),
		NodesVisited: len(enrollment.History),
	})

	return nil
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, nodeID string, attempt int, reason string) error {
	now := e.clk.Now()

	enrollment.Visit(nodeID, models.OutcomeFailed, reason, attempt, now)
	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.FailureReason = reason
	enrollment.NextWakeAt = nil

	if err := e.commit(ctx, enrollment); err != nil {
		return err
	}

	logger.WarnContext(ctx, "Enrollment failed", "node_id", nodeID, "reason", reason)

	e.publish(ctx, logger, enrollment.JourneyID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		NodeID:       nodeID,
		Reason:       reason,
	})

	return nil
}

// commit persists the accumulated mutation, checking for a lost cancellation
// race immediately before writing.
func (e *Executor) commit(ctx context.Context, enrollment *models.Enrollment) error {
	current, err := e.persistence.EnrollmentByID(ctx, enrollment.ID)
	if err != nil {
		return err
	}

	if current.Status == models.EnrollmentStatusCancelled {
		return errCancelledRace
	}

	return e.persistence.UpdateEnrollment(ctx, enrollment)
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, key, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish enrollment event", "error", err)
	}
}
