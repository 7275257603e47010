package definitions

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
)

// Scanner keeps the registry in sync with a definitions directory. Changed files
// replace their definition wholesale; deleted files unregister it.
type Scanner struct {
	logger   *slog.Logger
	registry *Registry
	dir      string
	mu       sync.Mutex
	modTimes map[string]time.Time
}

func NewScanner(logger *slog.Logger, registry *Registry, dir string) *Scanner {
	return &Scanner{
		logger:   logger.With("module", "definition_scanner", "dir", dir),
		registry: registry,
		dir:      dir,
		modTimes: make(map[string]time.Time),
	}
}

// Scan registers new and changed files and unregisters removed ones.
func (s *Scanner) Scan(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := DefinitionFiles(s.dir)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(files))
	pending := make(map[string]*models.WorkflowDefinition)

	var errs []error

	for _, file := range files {
		seen[file] = true

		info, err := os.Stat(file)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if known, ok := s.modTimes[file]; ok && known.Equal(info.ModTime()) {
			continue
		}

		def, err := LoadFile(file)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		s.registry.UnregisterSource(file)
		pending[file] = def
		s.modTimes[file] = info.ModTime()
	}

	for file := range s.modTimes {
		if seen[file] {
			continue
		}

		removed := s.registry.UnregisterSource(file)
		delete(s.modTimes, file)
		s.logger.InfoContext(ctx, "Workflow definition file removed", "file", file, "definitions", removed)
	}

	loaded, regErrs := s.registry.registerPending(ctx, pending)
	for _, err := range regErrs {
		var defErr *DefinitionError
		if errors.As(err, &defErr) {
			delete(s.modTimes, defErr.Source)
		}
	}

	if loaded > 0 {
		s.logger.InfoContext(ctx, "Workflow definitions reloaded", "count", loaded)
	}

	return errors.Join(append(errs, regErrs...)...)
}
