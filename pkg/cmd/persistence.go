package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/evergreenhq/journeys/pkg/persistence"
	"github.com/evergreenhq/journeys/pkg/persistence/file"
	"github.com/evergreenhq/journeys/pkg/persistence/postgresql"
)

// NewPersistence selects a persistence provider from the database URL
// scheme. Anything that is not a postgres URL is treated as a filesystem
// root, which keeps local development dependency-free.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		p, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			panic(fmt.Errorf("failed to create file persistence: %w", err))
		}

		return p
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
