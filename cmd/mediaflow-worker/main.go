package main

import (
	"context"
	"os"

	"github.com/dukex/mediaflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort            = 9092
	defaultRescanSchedule  = "@every 1m"
	defaultCleanupSchedule = "0 3 * * *"
)

func main() {
	cmd := &cli.Command{
		Name:                  "mediaflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the workflow engine and execute workflow jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Processing host name recorded on jobs and operations (defaults to the machine host name)",
				Sources: cli.EnvVars("MEDIAFLOW_HOST"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Workflow store URL (file://dir or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers used by the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "job-store",
				Usage:   "Job store (memory or redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("JOB_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "index-url",
				Usage:   "Search index (memory or redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("INDEX_URL"),
			},
			&cli.StringFlag{
				Name:     "users-file",
				Usage:    "YAML document listing organizations and users",
				Required: true,
				Sources:  cli.EnvVars("USERS_FILE"),
			},
			&cli.StringFlag{
				Name:    "definitions-path",
				Usage:   "Directory holding workflow definition documents",
				Value:   "./workflows",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "definitions-rescan",
				Usage:   "Cron schedule for reloading workflow definitions",
				Value:   defaultRescanSchedule,
				Sources: cli.EnvVars("DEFINITIONS_RESCAN"),
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				Usage:   "Cron schedule for removing old finished workflows",
				Value:   defaultCleanupSchedule,
				Sources: cli.EnvVars("CLEANUP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "cleanup-lifetime",
				Usage:   "Days finished workflows are kept (0 disables cleanup)",
				Value:   0,
				Sources: cli.EnvVars("CLEANUP_LIFETIME"),
			},
			&cli.StringFlag{
				Name:    "workspace-path",
				Usage:   "Directory holding per media package working files",
				Value:   "./workspace",
				Sources: cli.EnvVars("WORKSPACE_PATH"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of jobs processed concurrently",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port of the operational HTTP endpoints",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
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
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			host := command.String("host")
			if host == "" {
				name, err := os.Hostname()
				if err != nil {
					return err
				}

				host = name
			}

			logger := log.WithModule("mediaflow-worker").With("host", host)

			logger.InfoContext(ctx, "Initializing mediaflow worker")

			manager := NewWorkerManager(logger, Config{
				Host:              host,
				DatabaseURL:       command.String("database-url"),
				EventBus:          command.String("event-bus"),
				KafkaBrokers:      command.StringSlice("kafka-brokers"),
				JobStoreURL:       command.String("job-store"),
				IndexURL:          command.String("index-url"),
				UsersFile:         command.String("users-file"),
				DefinitionsPath:   command.String("definitions-path"),
				DefinitionsRescan: command.String("definitions-rescan"),
				CleanupSchedule:   command.String("cleanup-schedule"),
				CleanupLifetime:   command.Int("cleanup-lifetime"),
				WorkspacePath:     command.String("workspace-path"),
				Workers:           command.Int("workers"),
				Port:              command.Int("port"),
				Tracing:           command.Bool("otel"),
			})

			err := manager.Run(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Worker stopped with error", "error", err)

				return err
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}
