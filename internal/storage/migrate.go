package storage

import (
	"context"
	"fmt"
)

// schema is the full decisiond DDL. Statements are idempotent so Migrate can
// run at every startup. Child tables cascade-delete with their parent
// decision or conversation.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    org_id TEXT NOT NULL,
    workspace_id TEXT NOT NULL,
    source TEXT NOT NULL,
    source_path TEXT NOT NULL DEFAULT '',
    project_path TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    message_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ,
    extracted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    index INT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    reasoning_trace TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS decisions (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    org_id TEXT NOT NULL,
    workspace_id TEXT NOT NULL,
    title TEXT NOT NULL,
    summary TEXT NOT NULL,
    reasoning TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    extracted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_appearances (
    id UUID PRIMARY KEY,
    decision_id UUID NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
    message_start INT NOT NULL,
    message_end INT NOT NULL,
    type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alternatives (
    id UUID PRIMARY KEY,
    decision_id UUID NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    why_rejected TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS decision_dependencies (
    id UUID PRIMARY KEY,
    from_decision_id UUID NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
    to_decision_ref TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_steps (
    run_id TEXT NOT NULL,
    step_name TEXT NOT NULL,
    result JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, step_name)
);

CREATE TABLE IF NOT EXISTS sync_state (
    file_path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    last_synced_at TIMESTAMPTZ,
    last_modified_at TIMESTAMPTZ NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, index);
CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id);
CREATE INDEX IF NOT EXISTS idx_decisions_workspace ON decisions(org_id, workspace_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_from ON decision_dependencies(from_decision_id);
`

// Migrate creates the decisiond schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("storage: apply schema: %w", err)
	}
	db.logger.Info("schema migration applied")
	return nil
}
