// Package file provides file-based persistence for journeys and enrollments,
// suitable for development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evergreenhq/journeys/pkg/models"
	"github.com/evergreenhq/journeys/pkg/persistence"
)

// Persistence implements persistence.Persistence on a directory of JSON
// files, one per journey and enrollment, guarded by a single lock. The
// enrollment write path rewrites the whole record in one rename, so a
// position mutation and its history entry land together.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{"journeys", "enrollments", "definitions"} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return &Persistence{root: cleanRoot}, nil
}

func (p *Persistence) Journeys(_ context.Context) ([]*models.Journey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var journeys []*models.Journey

	err := p.each("journeys", func(raw []byte) error {
		var journey models.Journey
		if err := json.Unmarshal(raw, &journey); err != nil {
			return err
		}

		journeys = append(journeys, &journey)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list journeys: %w", err)
	}

	return journeys, nil
}

func (p *Persistence) JourneyByID(_ context.Context, id string) (*models.Journey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var journey models.Journey
	if err := p.read("journeys", id, &journey); err != nil {
		return nil, persistence.NewJourneyError("JourneyByID", id, err)
	}

	return &journey, nil
}

func (p *Persistence) SaveJourney(_ context.Context, journey *models.Journey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write("journeys", journey.ID, journey); err != nil {
		return persistence.NewJourneyError("SaveJourney", journey.ID, err)
	}

	return nil
}

func (p *Persistence) SaveJourneyVersion(_ context.Context, journeyID string, version int, definition map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write("definitions", versionKey(journeyID, version), definition); err != nil {
		return persistence.NewJourneyError("SaveJourneyVersion", journeyID, err)
	}

	return nil
}

func (p *Persistence) JourneyDefinition(_ context.Context, journeyID string, version int) (map[string]any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var definition map[string]any
	if err := p.read("definitions", versionKey(journeyID, version), &definition); err != nil {
		return nil, persistence.NewJourneyError("JourneyDefinition", journeyID, err)
	}

	return definition, nil
}

func versionKey(journeyID string, version int) string {
	return fmt.Sprintf("%s-v%d", journeyID, version)
}

func (p *Persistence) CreateEnrollment(_ context.Context, enrollment *models.Enrollment, blocking []models.EnrollmentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(blocking) > 0 {
		existing, err := p.filterEnrollments(func(e *models.Enrollment) bool {
			if e.JourneyID != enrollment.JourneyID || e.SubjectID != enrollment.SubjectID {
				return false
			}

			for _, status := range blocking {
				if e.Status == status {
					return true
				}
			}

			return false
		})
		if err != nil {
			return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
		}

		if len(existing) > 0 {
			return &persistence.EnrollmentError{
				Op:        "CreateEnrollment",
				JourneyID: enrollment.JourneyID,
				SubjectID: enrollment.SubjectID,
				Err:       persistence.ErrEnrollmentConflict,
			}
		}
	}

	if err := p.write("enrollments", enrollment.ID, enrollment); err != nil {
		return persistence.NewEnrollmentError("CreateEnrollment", enrollment.ID, err)
	}

	return nil
}

func (p *Persistence) UpdateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := os.Stat(p.path("enrollments", enrollment.ID)); err != nil {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	if err := p.write("enrollments", enrollment.ID, enrollment); err != nil {
		return persistence.NewEnrollmentError("UpdateEnrollment", enrollment.ID, err)
	}

	return nil
}

func (p *Persistence) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var enrollment models.Enrollment
	if err := p.read("enrollments", id, &enrollment); err != nil {
		return nil, persistence.NewEnrollmentError("EnrollmentByID", id, err)
	}

	return &enrollment, nil
}

func (p *Persistence) ActiveEnrollment(_ context.Context, journeyID, subjectID string) (*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	enrollment, err := p.findActive(journeyID, subjectID)
	if err != nil {
		return nil, &persistence.EnrollmentError{Op: "ActiveEnrollment", JourneyID: journeyID, SubjectID: subjectID, Err: err}
	}

	if enrollment == nil {
		return nil, &persistence.EnrollmentError{
			Op:        "ActiveEnrollment",
			JourneyID: journeyID,
			SubjectID: subjectID,
			Err:       persistence.ErrEnrollmentNotFound,
		}
	}

	return enrollment, nil
}

func (p *Persistence) EnrollmentsByJourney(_ context.Context, journeyID string) ([]*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.filterEnrollments(func(e *models.Enrollment) bool {
		return e.JourneyID == journeyID
	})
}

func (p *Persistence) NonTerminalEnrollments(_ context.Context, journeyID string) ([]*models.Enrollment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.filterEnrollments(func(e *models.Enrollment) bool {
		return e.JourneyID == journeyID && !e.Status.Terminal()
	})
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) findActive(journeyID, subjectID string) (*models.Enrollment, error) {
	matches, err := p.filterEnrollments(func(e *models.Enrollment) bool {
		return e.JourneyID == journeyID && e.SubjectID == subjectID && !e.Status.Terminal()
	})
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, nil
	}

	return matches[0], nil
}

func (p *Persistence) filterEnrollments(keep func(*models.Enrollment) bool) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	err := p.each("enrollments", func(raw []byte) error {
		var enrollment models.Enrollment
		if err := json.Unmarshal(raw, &enrollment); err != nil {
			return err
		}

		if keep(&enrollment) {
			enrollments = append(enrollments, &enrollment)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	return enrollments, nil
}

func (p *Persistence) each(kind string, visit func(raw []byte) error) error {
	root := os.DirFS(filepath.Join(p.root, kind))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return err
	}

	for _, file := range files {
		raw, err := fs.ReadFile(root, file)
		if err != nil {
			return err
		}

		if err := visit(raw); err != nil {
			return err
		}
	}

	return nil
}

func (p *Persistence) path(kind, id string) string {
	return filepath.Join(p.root, kind, id+".json")
}

func (p *Persistence) read(kind, id string, out any) error {
	raw, err := os.ReadFile(p.path(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			if kind == "enrollments" {
				return persistence.ErrEnrollmentNotFound
			}

			return persistence.ErrJourneyNotFound
		}

		return err
	}

	return json.Unmarshal(raw, out)
}

func (p *Persistence) write(kind, id string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	target := p.path(kind, id)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, target)
}
