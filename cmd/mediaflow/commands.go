package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/mediaflow/pkg/log"
	"github.com/dukex/mediaflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

// withClient runs action with a client bound to the CLI user.
func withClient(action func(ctx context.Context, c *client, command *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		c, err := newClient(ctx, log.WithModule("mediaflow"), command)
		if err != nil {
			return err
		}
		defer c.Close(ctx)

		return action(c.context(ctx), c, command)
	}
}

func workflowID(command *cli.Command) (string, error) {
	id := command.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s needs a workflow id", command.Name)
	}

	return id, nil
}

func definitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "definitions",
		Usage: "List the workflow definitions available to the user",
		Action: withClient(func(_ context.Context, c *client, _ *cli.Command) error {
			var rows [][]string

			for _, def := range c.defs.ListAvailable(c.user.Organization, c.user) {
				org := def.Organization
				if org == "" {
					org = "(global)"
				}

				rows = append(rows, []string{
					def.ID,
					def.Title,
					org,
					strconv.Itoa(len(def.Operations)),
					strings.Join(def.ExceptionHandlingWorkflows(), ", "),
				})
			}

			fmt.Println(renderTable(
				[]string{"ID", "Title", "Organization", "Operations", "Exception workflows"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))

			return nil
		}),
	}
}

func workflowsCommand() *cli.Command {
	return &cli.Command{
		Name:      "workflows",
		Usage:     "List the workflows of a media package",
		ArgsUsage: "<media-package-id>",
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			mp := command.Args().First()
			if mp == "" {
				return fmt.Errorf("%s needs a media package id", command.Name)
			}

			instances, err := c.engine.GetWorkflowInstancesByMediaPackage(ctx, mp)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(instances))
			for _, wi := range instances {
				current := "-"
				if op := wi.CurrentOperation(); op != nil {
					current = fmt.Sprintf("%s (%s)", op.Template, op.State)
				}

				rows = append(rows, []string{wi.ID, wi.DefinitionID(), string(wi.State), current, formatTime(&wi.DateCreated)})
			}

			fmt.Println(renderTable([]string{"ID", "Definition", "State", "Current operation", "Created"}, rows, nil))

			return nil
		}),
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show the operations of a workflow",
		ArgsUsage: "<workflow-id>",
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			id, err := workflowID(command)
			if err != nil {
				return err
			}

			wi, err := c.engine.GetWorkflowByID(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("Workflow %s (%s) on %s: %s\n", wi.ID, wi.DefinitionID(), wi.MediaPackageID(), wi.State)

			rows := make([][]string, 0, len(wi.Operations))
			for i, op := range wi.Operations {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					op.Template,
					string(op.State),
					fmt.Sprintf("%d/%d", op.FailedAttempts, op.MaxAttempts),
					string(op.RetryStrategy),
					op.ExecutionHost,
					formatTime(op.DateStarted),
					formatTime(op.DateCompleted),
				})
			}

			fmt.Println(renderTable(
				[]string{"#", "Template", "State", "Failures", "Retry", "Host", "Started", "Completed"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))

			return nil
		}),
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count workflows per state and running operation",
		Action: withClient(func(ctx context.Context, c *client, _ *cli.Command) error {
			stats, err := c.engine.Statistics(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(models.WorkflowStates)+len(stats.ByOperation)+1)
			for _, state := range models.WorkflowStates {
				rows = append(rows, []string{"state", string(state), strconv.FormatInt(stats.ByState[state], 10)})
			}

			templates := make([]string, 0, len(stats.ByOperation))
			for template := range stats.ByOperation {
				templates = append(templates, template)
			}

			slices.Sort(templates)

			for _, template := range templates {
				rows = append(rows, []string{"running", template, strconv.FormatInt(stats.ByOperation[template], 10)})
			}

			rows = append(rows, []string{"total", "", strconv.FormatInt(stats.Total, 10)})

			fmt.Println(renderTable([]string{"Kind", "Name", "Count"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))

			return nil
		}),
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a workflow on a media package",
		ArgsUsage: "<definition-id> <media-package-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Usage: "Media package title"},
			&cli.StringFlag{Name: "series", Usage: "Series the media package belongs to"},
			&cli.StringSliceFlag{Name: "property", Aliases: []string{"p"}, Usage: "Workflow configuration as key=value"},
		},
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			if command.Args().Len() != 2 {
				return fmt.Errorf("%s needs a definition id and a media package id", command.Name)
			}

			properties, err := parseProperties(command.StringSlice("property"))
			if err != nil {
				return err
			}

			mp := &models.MediaPackage{
				ID:       command.Args().Get(1),
				Title:    command.String("title"),
				SeriesID: command.String("series"),
			}

			wi, err := c.engine.StartByID(ctx, command.Args().Get(0), mp, properties)
			if err != nil {
				return err
			}

			fmt.Printf("Started workflow %s\n", wi.ID)

			return nil
		}),
	}
}

func stopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Stop a workflow",
		ArgsUsage: "<workflow-id>",
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			id, err := workflowID(command)
			if err != nil {
				return err
			}

			wi, err := c.engine.Stop(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("Workflow %s is %s\n", wi.ID, wi.State)

			return nil
		}),
	}
}

func suspendCommand() *cli.Command {
	return &cli.Command{
		Name:      "suspend",
		Usage:     "Pause a running workflow",
		ArgsUsage: "<workflow-id>",
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			id, err := workflowID(command)
			if err != nil {
				return err
			}

			wi, err := c.engine.Suspend(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("Workflow %s is %s\n", wi.ID, wi.State)

			return nil
		}),
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a paused workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "property", Aliases: []string{"p"}, Usage: "Properties handed to the paused operation as key=value"},
		},
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			id, err := workflowID(command)
			if err != nil {
				return err
			}

			properties, err := parseProperties(command.StringSlice("property"))
			if err != nil {
				return err
			}

			wi, err := c.engine.Resume(ctx, id, properties)
			if err != nil {
				return err
			}

			fmt.Printf("Workflow %s is %s\n", wi.ID, wi.State)

			return nil
		}),
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a workflow and its jobs",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Remove workflows that are still active"},
		},
		Action: withClient(func(ctx context.Context, c *client, command *cli.Command) error {
			id, err := workflowID(command)
			if err != nil {
				return err
			}

			err = c.engine.Remove(ctx, id, command.Bool("force"))
			if err != nil {
				return err
			}

			fmt.Printf("Removed workflow %s\n", id)

			return nil
		}),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}
