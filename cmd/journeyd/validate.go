package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/evergreenhq/journeys/pkg/cmd"
	"github.com/evergreenhq/journeys/pkg/definition"
	"github.com/evergreenhq/journeys/pkg/log"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored journey definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: validateAction,
	}
}

func validateAction(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("journeyd").With("action", "validate")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	journeys, err := persistence.Journeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch journeys: %w", err)
	}

	logger.InfoContext(ctx, "Validating journey definitions", "journeys", len(journeys))

	fmt.Println("Definition Validation Results:")
	fmt.Println("==============================")

	valid := 0
	invalid := 0

	for _, journey := range journeys {
		fmt.Printf("\nJourney: %s (%s)\n", journey.Name, journey.ID)

		if journey.Definition == nil {
			fmt.Printf("  ❌ INVALID: no definition staged\n")
			invalid++

			continue
		}

		graph, err := definition.Compile(journey.ID, journey.Version+1, journey.Definition)
		if err != nil {
			var defErr *definition.DefinitionError
			if errors.As(err, &defErr) {
				for _, violation := range defErr.Violations {
					fmt.Printf("  ❌ INVALID: %s\n", violation)
				}
			} else {
				fmt.Printf("  ❌ INVALID: %v\n", err)
			}

			invalid++

			continue
		}

		fmt.Printf("  ✅ VALID: %d nodes\n", graph.Size())
		valid++
	}

	fmt.Printf("\nSummary: %d valid, %d invalid\n", valid, invalid)

	if invalid > 0 {
		return fmt.Errorf("%d journey definitions failed validation", invalid)
	}

	return nil
}
