package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/persistence/file"
	"github.com/dukex/mediaflow/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the workflow store named by databaseURL. URLs without a
// known scheme are treated as file store directories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Store {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to open PostgreSQL store: %w", err))
		}

		return store
	default:
		store, err := file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
		if err != nil {
			panic(fmt.Errorf("failed to open file store: %w", err))
		}

		return store
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
