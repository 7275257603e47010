package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/dukex/mediaflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// ParseDefinition decodes one YAML workflow definition. Unknown fields are rejected.
func ParseDefinition(data []byte) (*models.WorkflowDefinition, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var def models.WorkflowDefinition

	err := decoder.Decode(&def)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return &def, nil
}

// LoadFile reads and decodes the definition stored at path.
func LoadFile(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition %s: %w", path, err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// DefinitionFiles returns the YAML files of dir in lexical order.
func DefinitionFiles(dir string) ([]string, error) {
	var files []string

	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list workflow definitions in %s: %w", dir, err)
		}

		files = append(files, matches...)
	}

	sort.Strings(files)

	return files, nil
}

// LoadDirectory registers every definition file of dir. Definitions whose
// exception-handling workflows are defined in later files are retried until no
// further progress is made. The returned error joins every file that failed.
func (r *Registry) LoadDirectory(ctx context.Context, dir string) (int, error) {
	files, err := DefinitionFiles(dir)
	if err != nil {
		return 0, err
	}

	pending := make(map[string]*models.WorkflowDefinition, len(files))

	var errs []error

	for _, file := range files {
		def, err := LoadFile(file)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		pending[file] = def
	}

	loaded, lastErrs := r.registerPending(ctx, pending)

	return loaded, errors.Join(append(errs, lastErrs...)...)
}

// registerPending registers a batch of definitions keyed by source. Exception
// workflows resolve against the batch too, so definitions naming each other load
// together. Definitions whose graph stays unresolvable are dropped until the
// remaining batch is closed.
func (r *Registry) registerPending(ctx context.Context, pending map[string]*models.WorkflowDefinition) (int, []error) {
	failures := make(map[string]error)

	for _, file := range sortedKeys(pending) {
		err := r.precheck(ctx, pending[file], file)
		if err != nil {
			failures[file] = definitionError(pending[file], file, err)
			delete(pending, file)
		}
	}

	for dropped := true; dropped; {
		dropped = false
		peers := slices.Collect(maps.Values(pending))

		r.mu.RLock()
		for _, file := range sortedKeys(pending) {
			err := r.checkExceptionWorkflows(pending[file], peers)
			if err != nil {
				failures[file] = definitionError(pending[file], file, err)
				delete(pending, file)

				dropped = true
			}
		}
		r.mu.RUnlock()
	}

	peers := slices.Collect(maps.Values(pending))
	loaded := 0

	for _, file := range sortedKeys(pending) {
		err := r.register(ctx, pending[file], file, peers)
		if err != nil {
			failures[file] = err

			continue
		}

		loaded++
	}

	errs := make([]error, 0, len(failures))
	for _, file := range sortedKeys(failures) {
		errs = append(errs, failures[file])
	}

	return loaded, errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
