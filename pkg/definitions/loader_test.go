package definitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const publishYAML = `
id: publish
title: Publish
roles: [ROLE_PRODUCER]
state-mappings:
  RUNNING: Processing
operations:
  - template: inspect
    description: Inspect media
    fail-on-error: true
    exception-handler-workflow: error
  - template: encode
    if: "${encode} == true"
    retry-strategy: HOLD
    max-attempts: 3
    configuration:
      profile: h264
`

const errorYAML = `
id: error
operations:
  - template: cleanup
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(publishYAML))
	require.NoError(t, err)

	assert.Equal(t, "publish", def.ID)
	assert.Equal(t, []string{"ROLE_PRODUCER"}, def.Roles)
	assert.Equal(t, "Processing", def.StateLabel(models.WorkflowStateRunning))
	assert.Equal(t, "PAUSED", def.StateLabel(models.WorkflowStatePaused))
	require.Len(t, def.Operations, 2)
	assert.True(t, def.Operations[0].FailOnError)
	assert.Equal(t, "error", def.Operations[0].ExceptionHandlingWorkflow)
	assert.Equal(t, "${encode} == true", def.Operations[1].ExecuteCondition)
	assert.Equal(t, models.RetryStrategyHold, def.Operations[1].RetryStrategy)
	assert.Equal(t, 3, def.Operations[1].MaxAttempts)
	assert.Equal(t, map[string]string{"profile": "h264"}, def.Operations[1].Configuration)

	_, err = ParseDefinition([]byte("id: x\nunknown: field\n"))
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestRegistry_LoadDirectoryResolvesForwardReferences(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-publish.yaml", publishYAML)
	writeFile(t, dir, "z-error.yml", errorYAML)
	writeFile(t, dir, "ignored.txt", "not yaml")

	reg := newTestRegistry()

	loaded, err := reg.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_LoadDirectoryMutualExceptionWorkflows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
id: a
operations:
  - template: inspect
    fail-on-error: true
    exception-handler-workflow: b
`)
	writeFile(t, dir, "b.yaml", `
id: b
operations:
  - template: notify
    fail-on-error: true
    exception-handler-workflow: a
`)

	reg := newTestRegistry()

	loaded, err := reg.LoadDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	for _, id := range []string{"a", "b"} {
		_, err := reg.ResolveForOrganization("", id)
		require.NoError(t, err, id)
	}
}

func TestRegistry_LoadDirectoryDropsChainsOnBrokenLinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
id: a
operations:
  - template: inspect
    fail-on-error: true
    exception-handler-workflow: b
`)
	writeFile(t, dir, "b.yaml", `
id: b
operations:
  - template: notify
    fail-on-error: true
    exception-handler-workflow: missing
`)
	writeFile(t, dir, "c.yaml", `
id: c
operations:
  - template: notify
`)

	reg := newTestRegistry()

	loaded, err := reg.LoadDirectory(context.Background(), dir)
	require.ErrorIs(t, err, ErrUnresolvableExceptionWorkflow)
	assert.Equal(t, 1, loaded)

	_, err = reg.ResolveForOrganization("", "a")
	assert.True(t, IsNotFound(err))

	_, err = reg.ResolveForOrganization("", "c")
	require.NoError(t, err)
}

func TestRegistry_LoadDirectoryReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "publish.yaml", publishYAML)
	writeFile(t, dir, "broken.yaml", "id: [")

	reg := newTestRegistry()

	loaded, err := reg.LoadDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.Equal(t, 0, loaded)
	require.ErrorIs(t, err, ErrUnresolvableExceptionWorkflow)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestScanner_Scan(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry()
	scanner := NewScanner(reg.logger, reg, dir)
	ctx := context.Background()

	errorPath := writeFile(t, dir, "error.yaml", errorYAML)
	require.NoError(t, scanner.Scan(ctx))
	assert.Equal(t, 1, reg.Len())

	writeFile(t, dir, "publish.yaml", publishYAML)
	require.NoError(t, scanner.Scan(ctx))
	assert.Equal(t, 2, reg.Len())

	changed := `
id: error
title: Changed
operations:
  - template: notify
`
	require.NoError(t, os.WriteFile(errorPath, []byte(changed), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(errorPath, later, later))
	require.NoError(t, scanner.Scan(ctx))

	got, err := reg.ResolveForOrganization("", "error")
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Title)
	assert.Equal(t, "notify", got.Operations[0].Template)

	require.NoError(t, os.Remove(errorPath))
	require.NoError(t, scanner.Scan(ctx))

	_, err = reg.ResolveForOrganization("", "error")
	require.ErrorIs(t, err, ErrDefinitionNotFound)
	assert.Equal(t, 1, reg.Len())
}
