package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/mediaflow/pkg/definitions"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_Schedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scanner := definitions.NewScanner(logger, definitions.NewRegistry(logger, security.NewDirectory()), t.TempDir())

	tests := []struct {
		name    string
		config  Config
		tasks   []string
		wantErr bool
	}{
		{
			name:   "rescan only",
			config: Config{DefinitionsRescan: defaultRescanSchedule, CleanupSchedule: defaultCleanupSchedule},
			tasks:  []string{"definitions-rescan"},
		},
		{
			name:   "rescan and cleanup",
			config: Config{DefinitionsRescan: defaultRescanSchedule, CleanupSchedule: defaultCleanupSchedule, CleanupLifetime: 30},
			tasks:  []string{"definitions-rescan", "workflow-cleanup"},
		},
		{
			name:    "invalid cleanup schedule",
			config:  Config{DefinitionsRescan: defaultRescanSchedule, CleanupSchedule: "every day", CleanupLifetime: 30},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorkerManager(logger, tt.config)

			tasks, err := w.schedule(scanner, nil)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.ElementsMatch(t, tt.tasks, tasks.Tasks())
		})
	}
}
