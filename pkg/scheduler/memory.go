package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evergreenhq/journeys/pkg/models"
)

const defaultLeaseTimeout = 2 * time.Minute

type memoryEntry struct {
	item     *models.WorkItem
	seq      uint64
	leased   bool
	leaseTil time.Time
}

// Memory is an in-process Scheduler for tests and single-node development.
type Memory struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	seq          uint64
	leaseTimeout time.Duration
}

// NewMemory creates an in-memory scheduler.
func NewMemory() *Memory {
	return &Memory{
		entries:      make(map[string]*memoryEntry),
		leaseTimeout: defaultLeaseTimeout,
	}
}

func (m *Memory) Enqueue(_ context.Context, item *models.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.entries[item.ID] = &memoryEntry{item: item, seq: m.seq}

	return nil
}

func (m *Memory) DueBefore(_ context.Context, now time.Time) ([]*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*memoryEntry, 0)

	for _, entry := range m.entries {
		if entry.leased && now.After(entry.leaseTil) {
			entry.leased = false
		}

		if !entry.leased && !entry.item.DueAt.After(now) {
			due = append(due, entry)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].item.DueAt.Equal(due[j].item.DueAt) {
			return due[i].item.DueAt.Before(due[j].item.DueAt)
		}

		return due[i].seq < due[j].seq
	})

	items := make([]*models.WorkItem, 0, len(due))

	for _, entry := range due {
		entry.leased = true
		entry.leaseTil = now.Add(m.leaseTimeout)
		items = append(items, entry.item)
	}

	return items, nil
}

func (m *Memory) Ack(_ context.Context, item *models.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, item.ID)

	return nil
}

func (m *Memory) Release(_ context.Context, item *models.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[item.ID]; ok {
		entry.leased = false
	}

	return nil
}

func (m *Memory) Cancel(_ context.Context, enrollmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, entry := range m.entries {
		if entry.item.EnrollmentID == enrollmentID {
			delete(m.entries, id)
		}
	}

	return nil
}

func (m *Memory) Close(_ context.Context) error {
	return nil
}

// Pending returns the number of queued items, for tests and introspection.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
