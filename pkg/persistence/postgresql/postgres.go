// Package postgresql provides PostgreSQL persistence for journeys and
// enrollments.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects to PostgreSQL and runs schema migration.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger.With("module", "persistence", "provider", "postgresql"),
	}

	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

func (p *Persistence) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS journeys (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	organization_id    TEXT NOT NULL,
	definition         JSONB,
	version            INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	run_multiple_times BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	published_at       TIMESTAMPTZ,
	archived_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_journeys_org ON journeys(organization_id);

CREATE TABLE IF NOT EXISTS journey_definitions (
	journey_id   TEXT NOT NULL REFERENCES journeys(id),
	version      INTEGER NOT NULL,
	definition   JSONB NOT NULL,
	published_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (journey_id, version)
);

CREATE TABLE IF NOT EXISTS enrollments (
	id              TEXT PRIMARY KEY,
	journey_id      TEXT NOT NULL REFERENCES journeys(id),
	journey_version INTEGER NOT NULL,
	subject_id      TEXT NOT NULL,
	current_node_id TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	entered_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	next_wake_at    TIMESTAMPTZ,
	history         JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_enrollments_journey ON enrollments(journey_id);
CREATE INDEX IF NOT EXISTS idx_enrollments_subject ON enrollments(journey_id, subject_id);
`

	_, err := p.db.ExecContext(ctx, schema)

	return err
}

func (p *Persistence) Journeys(ctx context.Context) ([]*models.Journey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, organization_id, definition, version, status, run_multiple_times,
		       created_at, updated_at, published_at, archived_at
		FROM journeys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}
	defer rows.Close()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}

		journeys = append(journeys, journey)
	}

	return journeys, rows.Err()
}

func (p *Persistence) JourneyByID(ctx context.Context, id string) (*models.Journey, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, organization_id, definition, version, status, run_multiple_times,
		       created_at, updated_at, published_at, archived_at
		FROM journeys WHERE id = $1`, id)

	journey, err := scanJourney(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJourneyError("JourneyByID", id, persistence.ErrJourneyNotFound)
		}

		return nil, persistence.NewJourneyError("JourneyByID", id, err)
	}

	return journey, nil
}

func (p *Persistence) SaveJourney(ctx context.Context, journey *models.Journey) error {
	definition, err := json.Marshal(journey.Definition)
	if err != nil {
		return persistence.NewJourneyError("SaveJourney", journey.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO journeys (id, name, organization_id, definition, version, status, run_multiple_times,
		                      created_at, updated_at, published_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			run_multiple_times = EXCLUDED.run_multiple_times,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			archived_at = EXCLUDED.archived_at`,
		journey.ID, journey.Name, journey.OrganizationID, definition, journey.Version,
		journey.Status, journey.RunMultipleTimes, journey.CreatedAt, journey.UpdatedAt,
		journey.PublishedAt, journey.ArchivedAt)
	if err != nil {
		return persistence.NewJourneyError("SaveJourney", journey.ID, err)
	}

	return nil
}

func (p *Persistence) SaveJourneyVersion(ctx context.Context, journeyID string, version int, definition map[string]any) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return persistence.NewJourneyError("SaveJourneyVersion", journeyID, err)
	}

	// Published definitions are immutable, so a replay of the same publish
	// leaves the existing snapshot untouched.
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO journey_definitions (journey_id, version, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (journey_id, version) DO NOTHING`, journeyID, version, raw)
	if err != nil {
		return persistence.NewJourneyError("SaveJourneyVersion", journeyID, err)
	}

	return nil
}

func (p *Persistence) JourneyDefinition(ctx context.Context, journeyID string, version int) (map[string]any, error) {
	var raw []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT definition FROM journey_definitions
		WHERE journey_id = $1 AND version = $2`, journeyID, version).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJourneyError("JourneyDefinition", journeyID, persistence.ErrJourneyNotFound)
		}

		return nil, persistence.NewJourneyError("JourneyDefinition", journeyID, err)
	}

	var definition map[string]any
	if err := json.Unmarshal(raw, &definition); err != nil {
		return nil, persistence.NewJourneyError("JourneyDefinition", journeyID, err)
	}

	return definition, nil
}

func (p *Persistence) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment, blocking []models.EnrollmentStatus) error {
	history, err := json.Marshal(enrollment.History)
	if err != nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	// The uniqueness invariant is enforced in the same statement so two
	// concurrent enrollment attempts cannot both pass a separate check.
	guard := ""
	args := []any{
		enrollment.ID, enrollment.JourneyID, enrollment.JourneyVersion, enrollment.SubjectID,
		enrollment.CurrentNodeID, enrollment.Status, enrollment.FailureReason,
		enrollment.EnteredAt, enrollment.UpdatedAt, enrollment.NextWakeAt, history,
	}

	if len(blocking) > 0 {
		statuses := make([]string, len(blocking))
		for i, status := range blocking {
			statuses[i] = string(status)
		}

		guard = `WHERE NOT EXISTS (
			SELECT 1 FROM enrollments
			WHERE journey_id = $2 AND subject_id = $4 AND status = ANY($12))`
		args = append(args, pq.Array(statuses))
	}

	result, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO enrollments (id, journey_id, journey_version, subject_id, current_node_id,
		                         status, failure_reason, entered_at, updated_at, next_wake_at, history)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11 %s`, guard),
		args...)
	if err != nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	if affected == 0 {
		return &persistence.EnrollmentError{
			Op:        "CreateEnrollment",
			JourneyID: enrollment.JourneyID,
			SubjectID: enrollment.SubjectID,
			Err:       persistence.ErrEnrollmentConflict,
		}
	}

	return nil
}

func (p *Persistence) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	history, err := json.Marshal(enrollment.History)
	if err != nil {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE enrollments
		SET current_node_id = $2, status = $3, failure_reason = $4,
		    updated_at = $5, next_wake_at = $6, history = $7
		WHERE id = $1`,
		enrollment.ID, enrollment.CurrentNodeID, enrollment.Status, enrollment.FailureReason,
		enrollment.UpdatedAt, enrollment.NextWakeAt, history)
	if err != nil {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	return nil
}

func (p *Persistence) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := p.db.QueryRowContext(ctx, enrollmentSelect+` WHERE id = $1`, id)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("EnrollmentByID", id, err)
	}

	return enrollment, nil
}

func (p *Persistence) ActiveEnrollment(ctx context.Context, journeyID, subjectID string) (*models.Enrollment, error) {
	row := p.db.QueryRowContext(ctx, enrollmentSelect+`
		WHERE journey_id = $1 AND subject_id = $2 AND status IN ('running', 'waiting')
		ORDER BY entered_at DESC LIMIT 1`, journeyID, subjectID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		wrapped := &persistence.EnrollmentError{Op: "ActiveEnrollment", JourneyID: journeyID, SubjectID: subjectID, Err: err}
		if errors.Is(err, sql.ErrNoRows) {
			wrapped.Err = persistence.ErrEnrollmentNotFound
		}

		return nil, wrapped
	}

	return enrollment, nil
}

func (p *Persistence) EnrollmentsByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	return p.queryEnrollments(ctx, enrollmentSelect+` WHERE journey_id = $1 ORDER BY entered_at`, journeyID)
}

func (p *Persistence) NonTerminalEnrollments(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	return p.queryEnrollments(ctx, enrollmentSelect+`
		WHERE journey_id = $1 AND status IN ('running', 'waiting') ORDER BY entered_at`, journeyID)
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

const enrollmentSelect = `
	SELECT id, journey_id, journey_version, subject_id, current_node_id, status,
	       failure_reason, entered_at, updated_at, next_wake_at, history
	FROM enrollments`

func (p *Persistence) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	return enrollments, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJourney(row scanner) (*models.Journey, error) {
	var (
		journey     models.Journey
		definition  []byte
		publishedAt sql.NullTime
		archivedAt  sql.NullTime
	)

	err := row.Scan(&journey.ID, &journey.Name, &journey.OrganizationID, &definition,
		&journey.Version, &journey.Status, &journey.RunMultipleTimes,
		&journey.CreatedAt, &journey.UpdatedAt, &publishedAt, &archivedAt)
	if err != nil {
		return nil, err
	}

	if len(definition) > 0 {
		if err := json.Unmarshal(definition, &journey.Definition); err != nil {
			return nil, fmt.Errorf("failed to decode journey definition: %w", err)
		}
	}

	journey.PublishedAt = nullTime(publishedAt)
	journey.ArchivedAt = nullTime(archivedAt)

	return &journey, nil
}

func scanEnrollment(row scanner) (*models.Enrollment, error) {
	var (
		enrollment models.Enrollment
		history    []byte
		nextWakeAt sql.NullTime
	)

	err := row.Scan(&enrollment.ID, &enrollment.JourneyID, &enrollment.JourneyVersion,
		&enrollment.SubjectID, &enrollment.CurrentNodeID, &enrollment.Status,
		&enrollment.FailureReason, &enrollment.EnteredAt, &enrollment.UpdatedAt,
		&nextWakeAt, &history)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(history, &enrollment.History); err != nil {
		return nil, fmt.Errorf("failed to decode enrollment history: %w", err)
	}

	enrollment.NextWakeAt = nullTime(nextWakeAt)

	return &enrollment, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	at := t.Time

	return &at
}
