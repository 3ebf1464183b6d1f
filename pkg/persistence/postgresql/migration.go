package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE webhooks (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				provider VARCHAR(50) NOT NULL CHECK (provider IN ('generic', 'facebook')),
				external_id VARCHAR(255),
				enabled BOOLEAN NOT NULL DEFAULT true,
				secret TEXT,
				signature_algorithm VARCHAR(20),
				signature_encoding VARCHAR(20),
				signature_header VARCHAR(255),
				access_token TEXT,
				rate_limit JSONB NOT NULL DEFAULT '{}',
				payload_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_webhooks_tenant ON webhooks(tenant_id);
			CREATE UNIQUE INDEX idx_webhooks_provider_external ON webhooks(provider, external_id)
				WHERE external_id IS NOT NULL;

			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT false,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_filters JSONB NOT NULL DEFAULT '{}',
				trigger_node_id VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				variables JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_tenant_trigger ON workflows(tenant_id, trigger_type) WHERE enabled;

			CREATE TABLE inbound_events (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				source VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				delivery_id VARCHAR(255),
				headers JSONB NOT NULL DEFAULT '{}',
				payload JSONB NOT NULL DEFAULT '{}',
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_inbound_events_tenant ON inbound_events(tenant_id, received_at);
			CREATE UNIQUE INDEX idx_inbound_events_delivery ON inbound_events(tenant_id, source, delivery_id)
				WHERE delivery_id IS NOT NULL;

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				event_id VARCHAR(255) NOT NULL REFERENCES inbound_events(id),
				status VARCHAR(20) NOT NULL
					CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				input JSONB NOT NULL DEFAULT '{}',
				node_results JSONB NOT NULL DEFAULT '[]',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				CONSTRAINT uq_workflow_executions_workflow_event UNIQUE (workflow_id, event_id)
			);

			CREATE INDEX idx_workflow_executions_event ON workflow_executions(tenant_id, event_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status, started_at);

			CREATE TABLE leads (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				email VARCHAR(320) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				phone VARCHAR(64) NOT NULL DEFAULT '',
				source VARCHAR(255) NOT NULL DEFAULT '',
				stage VARCHAR(64) NOT NULL DEFAULT '',
				fields JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT uq_leads_tenant_email UNIQUE (tenant_id, email)
			);
		`,
	}
}
