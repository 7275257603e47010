// Package redis keeps the workflow projection in one Redis hash per media package.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukex/mediaflow/pkg/protocol"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldMediaPackageID       = "mediapackage_id"
	fieldOrganization         = "organization"
	fieldWorkflowID           = "workflow_id"
	fieldWorkflowDefinitionID = "workflow_definition_id"
	fieldWorkflowState        = "workflow_state"
)

func eventKey(organization, mediaPackageID string) string {
	return "mediaflow:event:" + organization + ":" + mediaPackageID
}

// Index implements protocol.Index. Workflow states are written as their ordinal.
type Index struct {
	client goredis.Cmdable
}

var _ protocol.Index = (*Index)(nil)

func New(client goredis.Cmdable) *Index {
	return &Index{client: client}
}

func (i *Index) UpdateWorkflow(ctx context.Context, entry protocol.IndexEntry) error {
	err := i.client.HSet(ctx, eventKey(entry.Organization, entry.MediaPackageID),
		fieldMediaPackageID, entry.MediaPackageID,
		fieldOrganization, entry.Organization,
		fieldWorkflowID, entry.WorkflowID,
		fieldWorkflowDefinitionID, entry.WorkflowDefinitionID,
		fieldWorkflowState, strconv.Itoa(entry.WorkflowState.Ordinal()),
	).Err()
	if err != nil {
		return fmt.Errorf("index/redis: update workflow: %w", err)
	}

	return nil
}

// clearScript drops the workflow fields only while they belong to ARGV[1].
var clearScript = goredis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[2]) ~= ARGV[1] then
	return 0
end
return redis.call("HDEL", KEYS[1], ARGV[2], ARGV[3], ARGV[4])
`)

func (i *Index) RemoveWorkflow(ctx context.Context, organization, mediaPackageID, workflowID string) error {
	err := clearScript.Run(ctx, i.client, []string{eventKey(organization, mediaPackageID)},
		workflowID, fieldWorkflowID, fieldWorkflowDefinitionID, fieldWorkflowState,
	).Err()
	if err != nil {
		return fmt.Errorf("index/redis: remove workflow: %w", err)
	}

	return nil
}

// Fields returns the raw hash of a media package document.
func (i *Index) Fields(ctx context.Context, organization, mediaPackageID string) (map[string]string, error) {
	fields, err := i.client.HGetAll(ctx, eventKey(organization, mediaPackageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("index/redis: read document: %w", err)
	}

	return fields, nil
}
