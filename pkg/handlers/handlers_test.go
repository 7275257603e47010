package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dukex/mediaflow/pkg/handlers"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/registry"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/dukex/mediaflow/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstance(config map[string]string, ops ...models.OperationDefinition) *models.WorkflowInstance {
	def := &models.WorkflowDefinition{ID: "publish", Operations: ops}
	mp := &models.MediaPackage{ID: "mp-1", Title: "Lecture"}

	wi := models.NewWorkflowInstance(def, mp, security.User{Username: "alice", Organization: "org"}, config)
	wi.ID = "wf-1"
	wi.State = models.WorkflowStateRunning

	return wi
}

func TestDefaultsHandler_KeepsWorkflowValues(t *testing.T) {
	wi := newInstance(map[string]string{"channel": "engage"}, models.OperationDefinition{
		Template:      handlers.DefaultsTemplate,
		Configuration: map[string]string{"channel": "internal", "quality": "high"},
	})

	result, err := handlers.NewDefaultsHandler().Start(context.Background(), wi, wi.Operations[0])

	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, result.Action)
	assert.Equal(t, map[string]string{"quality": "high"}, result.Properties)
}

func TestLogHandler(t *testing.T) {
	wi := newInstance(nil, models.OperationDefinition{
		Template:      handlers.LogTemplate,
		Configuration: map[string]string{"message": "processing {{.mediapackage.id}}", "level": "warn"},
	})

	result, err := handlers.NewLogHandler().Start(context.Background(), wi, wi.Operations[0])

	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, result.Action)
}

func TestHoldHandler(t *testing.T) {
	h := handlers.NewHoldHandler()
	wi := newInstance(nil, models.OperationDefinition{Template: handlers.HoldTemplate})

	result, err := h.Start(context.Background(), wi, wi.Operations[0])
	require.NoError(t, err)
	assert.Equal(t, models.ActionPause, result.Action)

	result, err = h.Resume(context.Background(), wi, wi.Operations[0], map[string]string{"approved": "true"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, result.Action)
	assert.Equal(t, "true", result.Properties["approved"])

	var _ protocol.ResumableOperationHandler = h
}

func TestErrorResolutionHandler(t *testing.T) {
	h := handlers.NewErrorResolutionHandler()
	wi := newInstance(nil, models.OperationDefinition{Template: "encode"})
	op := models.NewErrorResolutionOperation(wi.Operations[0])

	result, err := h.Start(context.Background(), wi, op)
	require.NoError(t, err)
	assert.Equal(t, models.ActionPause, result.Action)
	assert.True(t, result.AllowContinue)

	result, err = h.Resume(context.Background(), wi, op, map[string]string{models.RetryStrategyProperty: "RETRY"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, result.Action)

	_, err = h.Resume(context.Background(), wi, op, map[string]string{models.RetryStrategyProperty: "NONE"})
	require.ErrorIs(t, err, handlers.ErrResolutionDeclined)

	_, err = h.Resume(context.Background(), wi, op, nil)
	require.ErrorIs(t, err, handlers.ErrResolutionDeclined)

	_, err = h.Resume(context.Background(), wi, op, map[string]string{models.RetryStrategyProperty: "HOLD"})
	require.ErrorIs(t, err, handlers.ErrResolutionDeclined)
}

func TestCleanupHandler(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.New(slog.New(slog.NewTextHandler(io.Discard, nil)), root)
	require.NoError(t, err)

	dir := filepath.Join(root, "mp-1")
	require.NoError(t, os.MkdirAll(dir, 0o750))

	wi := newInstance(nil, models.OperationDefinition{Template: handlers.CleanupTemplate})

	result, err := handlers.NewCleanupHandler(ws).Start(context.Background(), wi, wi.Operations[0])
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, result.Action)
	assert.NoDirExists(t, dir)

	_, err = handlers.NewCleanupHandler(nil).Start(context.Background(), wi, wi.Operations[0])
	require.ErrorIs(t, err, handlers.ErrNoWorkspace)
}

func TestBase_SkipAndDestroy(t *testing.T) {
	h := handlers.NewLogHandler()
	wi := newInstance(nil, models.OperationDefinition{Template: handlers.LogTemplate})

	result, err := h.Skip(context.Background(), wi, wi.Operations[0])
	require.NoError(t, err)
	assert.Equal(t, models.ActionSkip, result.Action)
	assert.NoError(t, h.Destroy(context.Background(), wi, wi.Operations[0]))
}

func TestHTTPRequestHandler(t *testing.T) {
	var gotPath, gotHeader, gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Workflow")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	wi := newInstance(map[string]string{"channel": "engage"}, models.OperationDefinition{
		Template: handlers.HTTPRequestTemplate,
		Configuration: map[string]string{
			"url":           server.URL + "/publish/{{.mediapackage.id}}",
			"method":        "post",
			"headers":       `{"X-Workflow": "{{.workflow.id}}"}`,
			"body":          `{"channel": "{{.config.channel}}"}`,
			"body-property": "publish.response",
		},
	})

	result, err := handlers.NewHTTPRequestHandler(server.Client()).Start(context.Background(), wi, wi.Operations[0])

	require.NoError(t, err)
	assert.Equal(t, "/publish/mp-1", gotPath)
	assert.Equal(t, "wf-1", gotHeader)
	assert.JSONEq(t, `{"channel": "engage"}`, gotBody)
	assert.Equal(t, "202", result.Properties["http.status"])
	assert.JSONEq(t, `{"ok":true}`, result.Properties["publish.response"])
}

func TestHTTPRequestHandler_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wi := newInstance(nil, models.OperationDefinition{
		Template:      handlers.HTTPRequestTemplate,
		Configuration: map[string]string{"url": server.URL, "retry-attempts": "3", "retry-delay": "1ms"},
	})

	result, err := handlers.NewHTTPRequestHandler(nil).Start(context.Background(), wi, wi.Operations[0])

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "200", result.Properties["http.status"])
}

func TestHTTPRequestHandler_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	wi := newInstance(nil, models.OperationDefinition{
		Template:      handlers.HTTPRequestTemplate,
		Configuration: map[string]string{"url": server.URL, "retry-attempts": "3"},
	})

	_, err := handlers.NewHTTPRequestHandler(nil).Start(context.Background(), wi, wi.Operations[0])

	require.ErrorIs(t, err, handlers.ErrHTTPStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPRequestHandler_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]string
		want   error
	}{
		{name: "missing url", config: map[string]string{}, want: handlers.ErrHTTPRequestURLInvalid},
		{name: "relative url", config: map[string]string{"url": "/path"}, want: handlers.ErrHTTPRequestURLInvalid},
		{name: "bad method", config: map[string]string{"url": "http://example.org", "method": "GE T"}, want: handlers.ErrHTTPMethodInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wi := newInstance(nil, models.OperationDefinition{Template: handlers.HTTPRequestTemplate, Configuration: tt.config})

			_, err := handlers.NewHTTPRequestHandler(nil).Start(context.Background(), wi, wi.Operations[0])
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterDefaults(t *testing.T) {
	reg := registry.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))

	handlers.RegisterDefaults(reg, nil, nil)

	assert.Equal(t, []string{
		handlers.CleanupTemplate,
		handlers.DefaultsTemplate,
		handlers.ErrorResolutionTemplate,
		handlers.HoldTemplate,
		handlers.HTTPRequestTemplate,
		handlers.LogTemplate,
	}, reg.Templates())

	require.NoError(t, reg.ValidateConfiguration(handlers.HTTPRequestTemplate, map[string]string{"url": "https://example.org"}))
	require.ErrorIs(t, reg.ValidateConfiguration(handlers.HTTPRequestTemplate, map[string]string{"method": "GET"}), registry.ErrInvalidConfiguration)
}
