package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/mediaflow/pkg/index/redis"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	defer func() {
		_ = container.Terminate(context.Background())
	}()

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	defer client.Close()

	idx := redis.New(client)

	require.NoError(t, idx.UpdateWorkflow(ctx, protocol.IndexEntry{
		MediaPackageID:       "mp-1",
		Organization:         "org",
		WorkflowID:           "wf-1",
		WorkflowDefinitionID: "publish",
		WorkflowState:        models.WorkflowStatePaused,
	}))

	fields, err := idx.Fields(ctx, "org", "mp-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", fields["workflow_id"])
	assert.Equal(t, "publish", fields["workflow_definition_id"])
	assert.Equal(t, "3", fields["workflow_state"])

	require.NoError(t, idx.RemoveWorkflow(ctx, "org", "mp-1", "wf-0"))

	fields, err = idx.Fields(ctx, "org", "mp-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", fields["workflow_id"])

	require.NoError(t, idx.RemoveWorkflow(ctx, "org", "mp-1", "wf-1"))

	fields, err = idx.Fields(ctx, "org", "mp-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mediapackage_id": "mp-1", "organization": "org"}, fields)
}
