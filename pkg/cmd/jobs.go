package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/mediaflow/pkg/dispatcher"
	redisjobs "github.com/dukex/mediaflow/pkg/dispatcher/redis"
	"github.com/dukex/mediaflow/pkg/handlers"
	"github.com/dukex/mediaflow/pkg/index"
	redisindex "github.com/dukex/mediaflow/pkg/index/redis"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/registry"
	goredis "github.com/redis/go-redis/v9"
)

// Closer releases a connection opened by one of the constructors.
type Closer func() error

func noopCloser() error { return nil }

// NewJobStore opens the dispatcher job store: "memory" or a redis:// URL.
func NewJobStore(ctx context.Context, logger *slog.Logger, url string) (dispatcher.JobStore, func(context.Context) error, Closer) {
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		logger.WarnContext(ctx, "Using in-memory job store, jobs are lost on restart")

		return dispatcher.NewMemoryStore(), func(context.Context) error { return nil }, noopCloser
	}

	client := newRedisClient(ctx, url)
	store := redisjobs.New(client)

	return store, store.Ping, client.Close
}

// NewIndex opens the search index: "memory" or a redis:// URL.
func NewIndex(ctx context.Context, url string) (protocol.Index, Closer) {
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return index.NewMemoryIndex(), noopCloser
	}

	client := newRedisClient(ctx, url)

	return redisindex.New(client), client.Close
}

func newRedisClient(ctx context.Context, url string) *goredis.Client {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		panic(fmt.Errorf("invalid redis URL: %w", err))
	}

	client := goredis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	return client
}

// NewRegistry returns a handler registry with the built-in handlers.
func NewRegistry(logger *slog.Logger, workspace protocol.Workspace) *registry.Registry {
	reg := registry.NewRegistry(logger)

	handlers.RegisterDefaults(reg, workspace, &http.Client{Timeout: 30 * time.Second})

	return reg
}
