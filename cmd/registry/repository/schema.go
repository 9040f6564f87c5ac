package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/openartifacts/registry/common/db"
)

// Custom properties live in typed child rows rather than a jsonb column
// so filters and sorts compile to plain indexed predicates. List
// elements carry a position, dict elements a key_name.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS artifacts (
		id UUID PRIMARY KEY,
		type_name TEXT NOT NULL,
		display_type_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		version_prefix BIGINT NOT NULL DEFAULT 0,
		version_suffix TEXT,
		version_meta TEXT,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'drafted',
		visibility TEXT NOT NULL DEFAULT 'private',
		owner TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		activated_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS ix_artifacts_identity
		ON artifacts (owner, type_name, name, version_prefix, version_suffix)`,
	`CREATE INDEX IF NOT EXISTS ix_artifacts_listing
		ON artifacts (type_name, status, visibility, created_at DESC, id ASC)`,

	`CREATE TABLE IF NOT EXISTS artifact_tags (
		id UUID PRIMARY KEY,
		artifact_id UUID NOT NULL REFERENCES artifacts (id) ON DELETE CASCADE,
		value TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_artifact_tags_artifact
		ON artifact_tags (artifact_id, value)`,

	`CREATE TABLE IF NOT EXISTS artifact_properties (
		id UUID PRIMARY KEY,
		artifact_id UUID NOT NULL REFERENCES artifacts (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		string_value TEXT,
		int_value BIGINT,
		numeric_value DOUBLE PRECISION,
		bool_value BOOLEAN,
		position INT,
		key_name TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_artifact_properties_artifact
		ON artifact_properties (artifact_id, name)`,
	`CREATE INDEX IF NOT EXISTS ix_artifact_properties_name_string
		ON artifact_properties (name, string_value)`,

	`CREATE TABLE IF NOT EXISTS artifact_blobs (
		id UUID PRIMARY KEY,
		artifact_id UUID NOT NULL REFERENCES artifacts (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		key_name TEXT,
		url TEXT,
		size BIGINT,
		md5 TEXT,
		sha1 TEXT,
		sha256 TEXT,
		external BOOLEAN NOT NULL DEFAULT false,
		status TEXT NOT NULL DEFAULT 'saving',
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream'
	)`,
	`CREATE INDEX IF NOT EXISTS ix_artifact_blobs_artifact
		ON artifact_blobs (artifact_id, name)`,

	`CREATE TABLE IF NOT EXISTS artifact_locks (
		lock_key TEXT PRIMARY KEY,
		acquired_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS artifact_quotas (
		project_id TEXT NOT NULL,
		quota_name TEXT NOT NULL,
		quota_value BIGINT NOT NULL,
		PRIMARY KEY (project_id, quota_name)
	)`,

	`CREATE TABLE IF NOT EXISTS blob_data (
		id TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// InitSchema applies the registry schema. Statements are idempotent so
// the hook is safe to run on every startup.
func InitSchema(database *db.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
