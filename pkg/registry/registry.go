// Package registry binds operation templates to the handlers that execute them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrHandlerNotFound indicates no handler is registered for a template.
	ErrHandlerNotFound = errors.New("operation handler not found")

	// ErrAmbiguousHandler indicates more than one handler is registered for a template.
	ErrAmbiguousHandler = errors.New("ambiguous operation handler")

	// ErrInvalidConfiguration indicates an operation configuration rejected by its handler schema.
	ErrInvalidConfiguration = errors.New("invalid operation configuration")
)

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string][]protocol.OperationHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "handler_registry"),
		handlers: make(map[string][]protocol.OperationHandler),
	}
}

// Register binds handler to template. Registering a second handler for the same
// template is allowed but makes Lookup fail until one of them is unregistered.
func (r *Registry) Register(template string, handler protocol.OperationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[template] = append(r.handlers[template], handler)

	if len(r.handlers[template]) > 1 {
		r.logger.Warn("More than one handler registered for operation template", "template", template, "count", len(r.handlers[template]))
	}
}

// Unregister removes handler from template.
func (r *Registry) Unregister(template string, handler protocol.OperationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[template] = slices.DeleteFunc(r.handlers[template], func(h protocol.OperationHandler) bool {
		return h == handler
	})

	if len(r.handlers[template]) == 0 {
		delete(r.handlers, template)
	}
}

// Lookup returns the single handler bound to template.
func (r *Registry) Lookup(template string) (protocol.OperationHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound := r.handlers[template]

	switch len(bound) {
	case 0:
		return nil, fmt.Errorf("template '%s': %w", template, ErrHandlerNotFound)
	case 1:
		return bound[0], nil
	default:
		return nil, fmt.Errorf("template '%s' has %d handlers: %w", template, len(bound), ErrAmbiguousHandler)
	}
}

// Templates returns the registered template names in sorted order.
func (r *Registry) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]string, 0, len(r.handlers))
	for template := range r.handlers {
		templates = append(templates, template)
	}

	sort.Strings(templates)

	return templates
}

// ValidateConfiguration checks configuration against the schema of the handler
// bound to template. Handlers without a schema accept any configuration.
func (r *Registry) ValidateConfiguration(template string, configuration map[string]string) error {
	handler, err := r.Lookup(template)
	if err != nil {
		return err
	}

	provider, ok := handler.(protocol.SchemaProvider)
	if !ok {
		return nil
	}

	document := make(map[string]any, len(configuration))
	for key, value := range configuration {
		document[key] = value
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(provider.Schema()), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("template '%s': %w", template, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("template '%s': %w: %s", template, ErrInvalidConfiguration, strings.Join(problems, "; "))
	}

	return nil
}
