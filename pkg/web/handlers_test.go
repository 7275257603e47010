package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/dukex/mediaflow/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	stats   *models.Statistics
	err     error
	delayed []string
}

func (f *fakeStats) Statistics(context.Context) (*models.Statistics, error) {
	return f.stats, f.err
}

func (f *fakeStats) Delayed() []string {
	return f.delayed
}

type fakeCheck struct {
	err error
}

func (f fakeCheck) HealthCheck(context.Context) error {
	return f.err
}

func newServer(stats *fakeStats, checks map[string]web.HealthChecker) *web.Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return web.NewServer(web.NewOpsHandlers(logger, "test-host", stats, checks))
}

func get(t *testing.T, server *web.Server, path string) (int, map[string]any) {
	t.Helper()

	resp, err := server.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &decoded))
	}

	return resp.StatusCode, decoded
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()

	server := newServer(&fakeStats{}, nil)

	status, _ := get(t, server, web.LivenessPath)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checks   map[string]web.HealthChecker
		status   int
		expected string
	}{
		{
			name:     "all dependencies healthy",
			checks:   map[string]web.HealthChecker{"store": fakeCheck{}, "jobs": fakeCheck{}},
			status:   http.StatusOK,
			expected: "ready",
		},
		{
			name:     "store unavailable",
			checks:   map[string]web.HealthChecker{"store": fakeCheck{err: errors.New("connection refused")}},
			status:   http.StatusServiceUnavailable,
			expected: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, body := get(t, newServer(&fakeStats{}, tt.checks), web.ReadinessPath)
			assert.Equal(t, tt.status, status)

			if tt.status == http.StatusOK {
				assert.Equal(t, tt.expected, body["status"])
				assert.Equal(t, "test-host", body["host"])
			} else {
				assert.Equal(t, tt.expected, body["type"])
				assert.Contains(t, body["detail"], "store: connection refused")
			}
		})
	}
}

func TestServer_Statistics(t *testing.T) {
	t.Parallel()

	stats := &fakeStats{
		stats: &models.Statistics{
			Total:       3,
			ByState:     map[models.WorkflowState]int64{models.WorkflowStateRunning: 2, models.WorkflowStateSucceeded: 1},
			ByOperation: map[string]int64{"encode": 2},
		},
		delayed: []string{"wf-2", "wf-1"},
	}

	status, body := get(t, newServer(stats, nil), web.StatisticsPath)
	require.Equal(t, http.StatusOK, status)

	assert.InDelta(t, 3, body["total"], 0)
	assert.Equal(t, map[string]any{"RUNNING": float64(2), "SUCCEEDED": float64(1)}, body["by_state"])
	assert.Equal(t, map[string]any{"encode": float64(2)}, body["running_by_operation"])
	assert.Equal(t, []any{"wf-1", "wf-2"}, body["delayed_starts"])
}

func TestServer_StatisticsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unauthorized", err: security.ErrNoUser, status: http.StatusForbidden},
		{name: "illegal state", err: engine.ErrIllegalState, status: http.StatusConflict},
		{name: "unexpected", err: errors.New("disk full"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, body := get(t, newServer(&fakeStats{err: tt.err}, nil), web.StatisticsPath)
			assert.Equal(t, tt.status, status)
			assert.InDelta(t, tt.status, body["status"], 0)
		})
	}
}
