// Package lifecycle manages journey status transitions and subject
// enrollment.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/evergreenhq/journeys/pkg/clock"
	"github.com/evergreenhq/journeys/pkg/definition"
	"github.com/evergreenhq/journeys/pkg/eventbus"
	"github.com/evergreenhq/journeys/pkg/events"
	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence"
	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/scheduler"
)

var (
	// ErrInvalidTransition is returned when a status change is not permitted
	// by the journey state machine.
	ErrInvalidTransition = errors.New("invalid journey status transition")

	// ErrNotDispatchable is returned when enrolling into a journey that is
	// not active.
	ErrNotDispatchable = errors.New("journey is not accepting enrollments")

	// ErrTriggerNotSatisfied is returned when the subject's attributes do not
	// match the journey's trigger predicate.
	ErrTriggerNotSatisfied = errors.New("trigger predicate not satisfied")

	// ErrEnrollmentsInFlight is returned by Archive under the drain-first
	// policy while non-terminal enrollments remain.
	ErrEnrollmentsInFlight = errors.New("journey has non-terminal enrollments")
)

// ArchivePolicy controls what happens to in-flight enrollments when a
// journey is archived.
type ArchivePolicy string

const (
	// ArchiveCancelActive cancels all non-terminal enrollments and archives
	// immediately. This is the default.
	ArchiveCancelActive ArchivePolicy = "cancel-active"

	// ArchiveDrainFirst refuses to archive while non-terminal enrollments
	// remain; the operator retries once they drain.
	ArchiveDrainFirst ArchivePolicy = "drain-first"
)

// Config wires the manager's collaborators. Persistence and Scheduler are
// required; the rest default.
type Config struct {
	Persistence persistence.Persistence
	Scheduler   scheduler.Scheduler
	Attributes  protocol.AttributeSource
	Clock       clock.Clock
	EventBus    eventbus.EventPublisher
	Logger      *slog.Logger

	ArchivePolicy ArchivePolicy

	// ReenterAfterFailure lets a subject re-enroll after a prior failed
	// enrollment even when the journey forbids running multiple times.
	ReenterAfterFailure bool
}

// Manager owns the journey status state machine and enrollment admission.
// Its operations are synchronous: definition and guard violations are
// reported to the operator immediately.
type Manager struct {
	persistence persistence.Persistence
	scheduler   scheduler.Scheduler
	attrs       protocol.AttributeSource
	clk         clock.Clock
	bus         eventbus.EventPublisher
	logger      *slog.Logger
	validate    *validator.Validate

	archivePolicy       ArchivePolicy
	reenterAfterFailure bool
}

// New creates a lifecycle manager from the given configuration.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.ArchivePolicy == "" {
		cfg.ArchivePolicy = ArchiveCancelActive
	}

	return &Manager{
		persistence:         cfg.Persistence,
		scheduler:           cfg.Scheduler,
		attrs:               cfg.Attributes,
		clk:                 cfg.Clock,
		bus:                 cfg.EventBus,
		logger:              cfg.Logger.With("module", "lifecycle"),
		validate:            validator.New(),
		archivePolicy:       cfg.ArchivePolicy,
		reenterAfterFailure: cfg.ReenterAfterFailure,
	}
}

// CreateJourney registers a new draft journey. The definition is not
// validated until publish.
func (m *Manager) CreateJourney(ctx context.Context, journey *models.Journey) error {
	now := m.clk.Now()

	if journey.ID == "" {
		journey.ID = "journey-" + uuid.New().String()
	}

	journey.Status = models.JourneyStatusDraft
	journey.Version = 0
	journey.CreatedAt = now
	journey.UpdatedAt = now

	if err := m.validate.Struct(journey); err != nil {
		return fmt.Errorf("invalid journey: %w", err)
	}

	if err := m.persistence.SaveJourney(ctx, journey); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Journey created",
		"journey_id", journey.ID, "organization_id", journey.OrganizationID)

	return nil
}

// UpdateDefinition stages a new working definition. Published versions are
// untouched; the staged definition only takes effect on the next publish.
func (m *Manager) UpdateDefinition(ctx context.Context, journeyID string, def map[string]any) error {
	journey, err := m.persistence.JourneyByID(ctx, journeyID)
	if err != nil {
		return err
	}

	if journey.Status.Terminal() {
		return fmt.Errorf("journey %s is archived: %w", journeyID, ErrInvalidTransition)
	}

	journey.Definition = def
	journey.UpdatedAt = m.clk.Now()

	return m.persistence.SaveJourney(ctx, journey)
}

// Publish validates the staged definition, snapshots it as the next version
// and activates the journey. A definition rejected by the compiler leaves
// the journey untouched.
func (m *Manager) Publish(ctx context.Context, journeyID string) (*models.Journey, error) {
	journey, err := m.persistence.JourneyByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if journey.Status != models.JourneyStatusDraft && journey.Status != models.JourneyStatusActive {
		return nil, fmt.Errorf("cannot publish journey in status %s: %w", journey.Status, ErrInvalidTransition)
	}

	version := journey.Version + 1

	if _, err := definition.Compile(journey.ID, version, journey.Definition); err != nil {
		return nil, err
	}

	now := m.clk.Now()

	if err := m.persistence.SaveJourneyVersion(ctx, journey.ID, version, journey.Definition); err != nil {
		return nil, err
	}

	journey.Version = version
	journey.Status = models.JourneyStatusActive
	journey.PublishedAt = &now
	journey.UpdatedAt = now

	if err := m.persistence.SaveJourney(ctx, journey); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Journey published",
		"journey_id", journey.ID, "version", version)

	m.publish(ctx, journey.ID, events.JourneyPublished{
		BaseEvent: events.NewBaseEvent(events.JourneyPublishedEvent, journey.ID),
		Version:   version,
	})

	return journey, nil
}

// Pause suspends dispatch for the journey's enrollments. Queued work keeps
// its due time and is dispatched on resume.
func (m *Manager) Pause(ctx context.Context, journeyID string) error {
	journey, err := m.transition(ctx, journeyID, models.JourneyStatusActive, models.JourneyStatusPaused)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Journey paused", "journey_id", journey.ID)

	m.publish(ctx, journey.ID, events.JourneyPaused{
		BaseEvent: events.NewBaseEvent(events.JourneyPausedEvent, journey.ID),
	})

	return nil
}

// Resume reactivates a paused journey. Overdue work items are dispatched
// immediately in their original due order.
func (m *Manager) Resume(ctx context.Context, journeyID string) error {
	journey, err := m.transition(ctx, journeyID, models.JourneyStatusPaused, models.JourneyStatusActive)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Journey resumed", "journey_id", journey.ID)

	m.publish(ctx, journey.ID, events.JourneyResumed{
		BaseEvent: events.NewBaseEvent(events.JourneyResumedEvent, journey.ID),
	})

	return nil
}

// Archive terminally retires the journey. In-flight enrollments are either
// cancelled or block the archive, per the configured policy.
func (m *Manager) Archive(ctx context.Context, journeyID string) error {
	journey, err := m.persistence.JourneyByID(ctx, journeyID)
	if err != nil {
		return err
	}

	if journey.Status.Terminal() {
		return fmt.Errorf("journey %s is already archived: %w", journeyID, ErrInvalidTransition)
	}

	inFlight, err := m.persistence.NonTerminalEnrollments(ctx, journeyID)
	if err != nil {
		return err
	}

	cancelled := 0

	if len(inFlight) > 0 {
		if m.archivePolicy == ArchiveDrainFirst {
			return fmt.Errorf("journey %s has %d enrollments in flight: %w",
				journeyID, len(inFlight), ErrEnrollmentsInFlight)
		}

		for _, enrollment := range inFlight {
			if err := m.cancel(ctx, enrollment); err != nil {
				return err
			}

			cancelled++
		}
	}

	now := m.clk.Now()
	journey.Status = models.JourneyStatusArchived
	journey.ArchivedAt = &now
	journey.UpdatedAt = now

	if err := m.persistence.SaveJourney(ctx, journey); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Journey archived",
		"journey_id", journey.ID, "cancelled_enrollments", cancelled)

	m.publish(ctx, journey.ID, events.JourneyArchived{
		BaseEvent:            events.NewBaseEvent(events.JourneyArchivedEvent, journey.ID),
		CancelledEnrollments: cancelled,
	})

	return nil
}

// Enroll admits a subject into an active journey. The trigger predicate is
// evaluated against the subject's current attributes; on success the
// enrollment starts at the trigger node with an immediately due work item.
func (m *Manager) Enroll(ctx context.Context, journeyID, subjectID string) (*models.Enrollment, error) {
	journey, err := m.persistence.JourneyByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if !journey.Dispatchable() {
		return nil, fmt.Errorf("journey %s is %s: %w", journeyID, journey.Status, ErrNotDispatchable)
	}

	def, err := m.persistence.JourneyDefinition(ctx, journeyID, journey.Version)
	if err != nil {
		return nil, err
	}

	graph, err := definition.Compile(journeyID, journey.Version, def)
	if err != nil {
		return nil, err
	}

	attrs, err := m.attrs.Attributes(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attributes for subject %s: %w", subjectID, err)
	}

	entry := graph.Entry()

	matched, err := entry.Predicate.Evaluate(attrs)
	if err != nil {
		return nil, fmt.Errorf("trigger predicate for journey %s: %w", journeyID, err)
	}

	if !matched {
		return nil, fmt.Errorf("subject %s, journey %s: %w", subjectID, journeyID, ErrTriggerNotSatisfied)
	}

	now := m.clk.Now()
	enrollment := &models.Enrollment{
		ID:             "enr-" + uuid.New().String(),
		JourneyID:      journeyID,
		JourneyVersion: journey.Version,
		SubjectID:      subjectID,
		CurrentNodeID:  entry.ID,
		Status:         models.EnrollmentStatusRunning,
		EnteredAt:      now,
		UpdatedAt:      now,
	}
	enrollment.Visit(entry.ID, models.OutcomeEnrolled, "", 0, now)

	if err := m.persistence.CreateEnrollment(ctx, enrollment, m.blocking(journey)); err != nil {
		return nil, err
	}

	item := models.NewWorkItem(enrollment.ID, journeyID, entry.ID, now, now)
	if err := m.scheduler.Enqueue(ctx, item); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Subject enrolled",
		"journey_id", journeyID, "subject_id", subjectID, "enrollment_id", enrollment.ID)

	m.publish(ctx, journeyID, events.EnrollmentStarted{
		BaseEvent:      events.NewBaseEvent(events.EnrollmentStartedEvent, journeyID),
		EnrollmentID:   enrollment.ID,
		SubjectID:      subjectID,
		JourneyVersion: journey.Version,
	})

	return enrollment, nil
}

// CancelEnrollment terminally cancels an enrollment and drops its pending
// work. Cancelling an already terminal enrollment is a no-op.
func (m *Manager) CancelEnrollment(ctx context.Context, enrollmentID string) error {
	enrollment, err := m.persistence.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return err
	}

	if enrollment.Status.Terminal() {
		return nil
	}

	return m.cancel(ctx, enrollment)
}

// blocking returns the enrollment statuses that must not already exist for
// the subject. A subject of a single-run journey never re-enters after a
// terminal enrollment, except after a failure when re-entry is configured.
func (m *Manager) blocking(journey *models.Journey) []models.EnrollmentStatus {
	if journey.RunMultipleTimes {
		return nil
	}

	blocking := []models.EnrollmentStatus{
		models.EnrollmentStatusRunning,
		models.EnrollmentStatusWaiting,
		models.EnrollmentStatusCompleted,
		models.EnrollmentStatusCancelled,
	}

	if !m.reenterAfterFailure {
		blocking = append(blocking, models.EnrollmentStatusFailed)
	}

	return blocking
}

func (m *Manager) cancel(ctx context.Context, enrollment *models.Enrollment) error {
	now := m.clk.Now()

	enrollment.Visit(enrollment.CurrentNodeID, models.OutcomeCancelled, "", 0, now)
	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.NextWakeAt = nil

	if err := m.persistence.UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}

	if err := m.scheduler.Cancel(ctx, enrollment.ID); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Enrollment cancelled",
		"enrollment_id", enrollment.ID, "journey_id", enrollment.JourneyID)

	m.publish(ctx, enrollment.JourneyID, events.EnrollmentCancelled{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCancelledEvent, enrollment.JourneyID),
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
	})

	return nil
}

func (m *Manager) transition(ctx context.Context, journeyID string, from, to models.JourneyStatus) (*models.Journey, error) {
	journey, err := m.persistence.JourneyByID(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	if journey.Status != from {
		return nil, fmt.Errorf("journey %s is %s, expected %s: %w",
			journeyID, journey.Status, from, ErrInvalidTransition)
	}

	journey.Status = to
	journey.UpdatedAt = m.clk.Now()

	if err := m.persistence.SaveJourney(ctx, journey); err != nil {
		return nil, err
	}

	return journey, nil
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.bus == nil {
		return
	}

	if err := m.bus.Publish(ctx, key, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "error", err)
	}
}
