package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/mediaflow/pkg/cmd"
	"github.com/dukex/mediaflow/pkg/definitions"
	"github.com/dukex/mediaflow/pkg/dispatcher"
	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/dukex/mediaflow/pkg/eventbus"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/security"
	cli "github.com/urfave/cli/v3"
)

// client is an engine that only creates and updates jobs. Workers pick them up
// through the shared job store and event bus.
type client struct {
	logger  *slog.Logger
	engine  *engine.Engine
	defs    *definitions.Registry
	user    security.User
	store   persistence.Store
	bus     eventbus.EventBus
	closers []cmd.Closer
}

func newClient(ctx context.Context, logger *slog.Logger, command *cli.Command) (*client, error) {
	users, err := security.LoadDirectory(command.String("users-file"))
	if err != nil {
		return nil, err
	}

	user, err := users.LoadUser(ctx, command.String("organization"), command.String("user"))
	if err != nil {
		return nil, err
	}

	handlers := cmd.NewRegistry(logger, nil)

	defs := definitions.NewRegistry(logger, users)
	defs.ValidateOperationsWith(handlers)

	_, err = defs.LoadDirectory(ctx, command.String("definitions-path"))
	if err != nil {
		logger.WarnContext(ctx, "Some workflow definitions could not be loaded", "error", err)
	}

	c := &client{logger: logger, defs: defs, user: user}

	c.store = cmd.NewPersistence(ctx, logger, command.String("database-url"))
	c.bus = cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)

	jobStore, _, closeJobs := cmd.NewJobStore(ctx, logger, command.String("job-store"))
	c.closers = append(c.closers, closeJobs)

	index, closeIndex := cmd.NewIndex(ctx, command.String("index-url"))
	c.closers = append(c.closers, closeIndex)

	c.engine, err = engine.New(logger, engine.Options{
		Store:       c.store,
		Definitions: defs,
		Handlers:    handlers,
		Dispatcher:  dispatcher.New(logger, jobStore, c.bus, dispatcher.Options{}),
		Users:       users,
		Index:       index,
		Publisher:   c.bus,
	})
	if err != nil {
		c.Close(ctx)

		return nil, err
	}

	return c, nil
}

// context installs the CLI user on ctx.
func (c *client) context(ctx context.Context) context.Context {
	return security.WithUser(ctx, c.user)
}

func (c *client) Close(ctx context.Context) {
	if c.engine != nil {
		c.engine.WaitForListeners()
	}

	for _, closer := range c.closers {
		err := closer()
		if err != nil {
			c.logger.ErrorContext(ctx, "Failed to close connection", "error", err)
		}
	}

	err := c.bus.Close()
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = c.store.Close(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

// parseProperties turns key=value pairs into a property map.
func parseProperties(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil //nolint:nilnil // no properties
	}

	properties := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", pair)
		}

		properties[strings.TrimSpace(key)] = value
	}

	return properties, nil
}
