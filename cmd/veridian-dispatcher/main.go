package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/veridianhq/veridian/pkg/cmd"
	"github.com/veridianhq/veridian/pkg/log"
	"github.com/veridianhq/veridian/pkg/otelhelper"
	"github.com/veridianhq/veridian/pkg/outbox"
)

func main() {
	command := &cli.Command{
		Name:                  "veridian-dispatcher",
		Usage:                 "Start the Veridian outbox dispatcher service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, redis, channel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the redis event bus",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Outbox polling interval",
				Value:   outbox.DefaultInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum outbox records claimed per poll",
				Value:   outbox.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Delivery attempts before a record is dead-lettered",
				Value:   outbox.DefaultMaxAttempts,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			_, err := otelhelper.NewTracer(ctx, "veridian-dispatcher")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("veridian-dispatcher").With("dispatcher_id", dispatcherID)

			logger.Info("Initializing Veridian Dispatcher", "dispatcher_id", dispatcherID)

			eventBus := cmd.NewEventBus(
				command.String("event-bus"),
				"veridian-dispatcher",
				command.String("kafka-brokers"),
				command.String("redis-url"),
				logger,
			)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			dispatcher := outbox.NewDispatcher(
				dispatcherID,
				persistence,
				eventBus,
				logger,
				outbox.WithInterval(command.Duration("poll-interval")),
				outbox.WithBatchSize(command.Int("batch-size")),
				outbox.WithMaxAttempts(command.Int("max-attempts")),
			)

			err = dispatcher.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		slog.Error("dispatcher exited", "error", err)
		os.Exit(1)
	}
}
