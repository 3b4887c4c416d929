package repository

// Schema holds the DDL for the workflow tables. Applied by cmd/seed for local
// development and by the repository integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	steps JSONB NOT NULL,
	active BOOLEAN NOT NULL DEFAULT FALSE,
	starts_pending BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id UUID PRIMARY KEY,
	definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
	subject_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	current_step_index INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	started_by TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	metadata JSONB,
	version INT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_instances_subject ON workflow_instances (definition_id, subject_id, status);

CREATE TABLE IF NOT EXISTS step_executions (
	id UUID PRIMARY KEY,
	instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
	step_index INT NOT NULL,
	name TEXT NOT NULL,
	required_role TEXT NOT NULL,
	auto_complete BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	assigned_to TEXT,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	comments TEXT NOT NULL DEFAULT '',
	version INT NOT NULL DEFAULT 1,
	UNIQUE (instance_id, step_index)
);

CREATE TABLE IF NOT EXISTS committee_members (
	id UUID PRIMARY KEY,
	user_ref TEXT NOT NULL,
	role TEXT NOT NULL,
	specialization TEXT,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	appointed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS committee_reviews (
	id UUID PRIMARY KEY,
	subject_id TEXT NOT NULL,
	round INT NOT NULL,
	member_id UUID NOT NULL REFERENCES committee_members(id),
	status TEXT NOT NULL,
	comments TEXT NOT NULL DEFAULT '',
	rationale TEXT NOT NULL DEFAULT '',
	reviewed_at TIMESTAMPTZ,
	version INT NOT NULL DEFAULT 1,
	UNIQUE (subject_id, round, member_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id UUID PRIMARY KEY,
	subject_type TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	action TEXT NOT NULL,
	actor TEXT NOT NULL,
	before_state TEXT NOT NULL DEFAULT '',
	after_state TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log (subject_id, ts);
`
