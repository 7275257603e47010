package index

import (
	"context"
	"testing"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	entry := protocol.IndexEntry{
		MediaPackageID:       "mp-1",
		Organization:         "org",
		WorkflowID:           "wf-1",
		WorkflowDefinitionID: "publish",
		WorkflowState:        models.WorkflowStateRunning,
	}
	require.NoError(t, idx.UpdateWorkflow(ctx, entry))

	got, ok := idx.Get("org", "mp-1")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	_, ok = idx.Get("other", "mp-1")
	assert.False(t, ok)

	require.NoError(t, idx.RemoveWorkflow(ctx, "org", "mp-1", "wf-0"))

	got, ok = idx.Get("org", "mp-1")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	require.NoError(t, idx.RemoveWorkflow(ctx, "org", "mp-1", "wf-1"))

	got, ok = idx.Get("org", "mp-1")
	require.True(t, ok)
	assert.Equal(t, "mp-1", got.MediaPackageID)
	assert.Empty(t, got.WorkflowID)
	assert.Empty(t, got.WorkflowState)

	require.NoError(t, idx.RemoveWorkflow(ctx, "org", "unknown", "wf-1"))
	_, ok = idx.Get("org", "unknown")
	assert.False(t, ok)
}
