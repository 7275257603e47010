package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/mediaflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "mediaflow",
		Usage:                 "Inspect and control media processing workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Usage:   "Job store shared with the workers (memory or redis://...)",
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
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User the commands run as",
				Required: true,
				Sources:  cli.EnvVars("MEDIAFLOW_USER"),
			},
			&cli.StringFlag{
				Name:     "organization",
				Aliases:  []string{"o"},
				Usage:    "Organization of the user",
				Required: true,
				Sources:  cli.EnvVars("MEDIAFLOW_ORGANIZATION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			definitionsCommand(),
			workflowsCommand(),
			showCommand(),
			statsCommand(),
			startCommand(),
			stopCommand(),
			suspendCommand(),
			resumeCommand(),
			removeCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
