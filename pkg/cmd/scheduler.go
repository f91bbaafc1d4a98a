package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/evergreenhq/journeys/pkg/scheduler"
)

// NewScheduler selects a scheduler backend from the queue URL scheme. Redis
// gives a durable queue shared across processes; the in-memory scheduler is
// single-process only.
func NewScheduler(queueURL string, logger *slog.Logger) scheduler.Scheduler {
	if strings.HasPrefix(queueURL, "redis://") || strings.HasPrefix(queueURL, "rediss://") {
		s, err := scheduler.NewRedis(queueURL, logger)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis scheduler: %w", err))
		}

		return s
	}

	return scheduler.NewMemory()
}
