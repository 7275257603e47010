package postgresql

import "github.com/dukex/mediaflow/pkg/persistence/sqlbase"

var migrations = []sqlbase.Migration{
	{
		Version: 1,
		Name:    "workflow_instances",
		SQL: `
			CREATE TABLE workflow_instances (
				id VARCHAR(255) PRIMARY KEY,
				organization VARCHAR(255) NOT NULL,
				mediapackage_id VARCHAR(255) NOT NULL,
				definition_id VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL,
				current_operation VARCHAR(255) NOT NULL DEFAULT '',
				creator VARCHAR(255),
				date_created TIMESTAMP WITH TIME ZONE NOT NULL,
				date_completed TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL
			);

			CREATE INDEX idx_workflow_instances_mediapackage ON workflow_instances(mediapackage_id);
			CREATE INDEX idx_workflow_instances_state_operation ON workflow_instances(state, current_operation);
			CREATE INDEX idx_workflow_instances_date_created ON workflow_instances(date_created);
		`,
	},
}
