package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/evergreenhq/journeys/pkg/cmd"
	"github.com/evergreenhq/journeys/pkg/executor"
	"github.com/evergreenhq/journeys/pkg/log"
	"github.com/evergreenhq/journeys/pkg/otelhelper"
	"github.com/evergreenhq/journeys/pkg/protocol"
	"github.com/evergreenhq/journeys/pkg/worker"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the journey worker pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Scheduler queue URL (redis://... or memory)",
				Value:   "memory",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "subjects-file",
				Usage:   "JSON file mapping subject IDs to attribute snapshots",
				Value:   "",
				Sources: cli.EnvVars("SUBJECTS_FILE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the scheduler is sampled for due work",
				Value:   1 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of concurrent enrollment workers",
				Value:   8,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces via OTLP",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
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
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("journeyd").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing journey worker")

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	sched := cmd.NewScheduler(command.String("queue-url"), logger)
	defer func() {
		if err := sched.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close scheduler", "error", err)
		}
	}()

	attrs, err := loadSubjects(command.String("subjects-file"))
	if err != nil {
		return err
	}

	execCfg := executor.Config{
		Persistence: persistence,
		Scheduler:   sched,
		Registry:    cmd.NewRegistry(logger),
		Attributes:  attrs,
		EventBus:    eventBus,
		Logger:      logger,
	}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracer(ctx, "journeyd")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		execCfg.Tracer = tracer
	}

	pool := worker.NewPool(worker.Config{
		ID:           workerID,
		Persistence:  persistence,
		Scheduler:    sched,
		Executor:     executor.New(execCfg),
		Logger:       logger,
		PollInterval: command.Duration("poll-interval"),
		Concurrency:  int(command.Int("concurrency")),
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return pool.Start(ctx)
}

// loadSubjects reads a static subject attribute snapshot. Production
// deployments replace this with a live attribute source when embedding the
// engine.
func loadSubjects(path string) (protocol.AttributeSource, error) {
	if path == "" {
		return protocol.StaticAttributes{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subjects file: %w", err)
	}

	var subjects protocol.StaticAttributes
	if err := json.Unmarshal(raw, &subjects); err != nil {
		return nil, fmt.Errorf("failed to parse subjects file: %w", err)
	}

	return subjects, nil
}
