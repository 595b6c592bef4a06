package postgresql

// migrations returns the schema migrations for the workflow store, keyed by
// version number.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 1,
				revision INTEGER NOT NULL DEFAULT 0,
				graph_body JSONB NOT NULL DEFAULT '{}',
				tags TEXT[] NOT NULL DEFAULT '{}',
				is_published BOOLEAN NOT NULL DEFAULT FALSE,
				published_at TIMESTAMP WITH TIME ZONE,
				published_by VARCHAR(255),
				publish_notes TEXT NOT NULL DEFAULT '',
				version_notes TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				archived_at TIMESTAMP WITH TIME ZONE,
				parent_id UUID,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (tenant_id, id),
				CONSTRAINT workflow_definitions_name_version_unique UNIQUE (tenant_id, name, version)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_definitions_tenant_created
				ON workflow_definitions(tenant_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_workflow_definitions_tenant_published
				ON workflow_definitions(tenant_id, is_published);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS workflow_instances (
				id UUID NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				definition_id UUID NOT NULL,
				definition_version INTEGER NOT NULL DEFAULT 1,
				status VARCHAR(50) NOT NULL DEFAULT 'Running',
				started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE,
				cancelled_by VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (tenant_id, id)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_tenant_definition
				ON workflow_instances(tenant_id, definition_id);
			CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
				ON workflow_instances(tenant_id, definition_id, status);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS outbox_records (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				event_data JSONB NOT NULL DEFAULT '{}',
				idempotency_key VARCHAR(512) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				processed_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				dead_letter BOOLEAN NOT NULL DEFAULT FALSE,
				CONSTRAINT outbox_records_idempotency_unique UNIQUE (tenant_id, idempotency_key)
			);

			CREATE INDEX IF NOT EXISTS idx_outbox_records_pending
				ON outbox_records(created_at) WHERE processed_at IS NULL AND dead_letter = FALSE;
			CREATE INDEX IF NOT EXISTS idx_outbox_records_dead_letter
				ON outbox_records(tenant_id, created_at) WHERE dead_letter = TRUE;
		`,
	}
}
