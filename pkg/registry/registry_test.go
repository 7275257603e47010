package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	name string
}

func (m *mockHandler) Start(context.Context, *models.WorkflowInstance, *models.OperationInstance) (*models.OperationResult, error) {
	return models.Continue(nil), nil
}

func (m *mockHandler) Skip(context.Context, *models.WorkflowInstance, *models.OperationInstance) (*models.OperationResult, error) {
	return models.Skip(nil), nil
}

func (m *mockHandler) Destroy(context.Context, *models.WorkflowInstance, *models.OperationInstance) error {
	return nil
}

type schemaHandler struct {
	mockHandler
}

func (s *schemaHandler) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url":    map[string]any{"type": "string", "pattern": "^https?://"},
			"method": map[string]any{"type": "string", "enum": []any{"GET", "POST"}},
		},
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(slog.Default())
	inspect := &mockHandler{name: "inspect"}
	reg.Register("inspect", inspect)

	handler, err := reg.Lookup("inspect")
	require.NoError(t, err)
	assert.Same(t, inspect, handler)

	_, err = reg.Lookup("encode")
	require.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestRegistry_AmbiguousUntilUnregistered(t *testing.T) {
	reg := NewRegistry(slog.Default())
	first := &mockHandler{name: "first"}
	second := &mockHandler{name: "second"}

	reg.Register("encode", first)
	reg.Register("encode", second)

	_, err := reg.Lookup("encode")
	require.ErrorIs(t, err, ErrAmbiguousHandler)

	reg.Unregister("encode", first)

	handler, err := reg.Lookup("encode")
	require.NoError(t, err)
	assert.Same(t, second, handler)

	reg.Unregister("encode", second)
	assert.Empty(t, reg.Templates())
}

func TestRegistry_Templates(t *testing.T) {
	reg := NewRegistry(slog.Default())
	reg.Register("publish", &mockHandler{})
	reg.Register("encode", &mockHandler{})

	assert.Equal(t, []string{"encode", "publish"}, reg.Templates())
}

func TestRegistry_ValidateConfiguration(t *testing.T) {
	reg := NewRegistry(slog.Default())
	reg.Register("notify", &schemaHandler{})
	reg.Register("inspect", &mockHandler{})

	require.NoError(t, reg.ValidateConfiguration("notify", map[string]string{"url": "https://example.org", "method": "POST"}))
	require.NoError(t, reg.ValidateConfiguration("inspect", map[string]string{"anything": "goes"}))

	err := reg.ValidateConfiguration("notify", map[string]string{"method": "DELETE"})
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "url")

	err = reg.ValidateConfiguration("missing", nil)
	require.ErrorIs(t, err, ErrHandlerNotFound)
}
