package store

import (
	"context"

	"github.com/opendiscourse/legisync/pkg/errors"
)

// schemaStatements creates the three tables the ingester writes to.
// CREATE IF NOT EXISTS keeps repeated runs safe; evolving an existing
// schema is out of scope and left to the operator.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		id              BIGSERIAL PRIMARY KEY,
		collection_code VARCHAR(32) NOT NULL UNIQUE,
		collection_name VARCHAR(255) NOT NULL,
		description     TEXT,
		last_modified   TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id              BIGSERIAL PRIMARY KEY,
		package_id      VARCHAR(255) NOT NULL UNIQUE,
		collection_code VARCHAR(32) NOT NULL,
		title           VARCHAR(512),
		summary         VARCHAR(2000),
		download_url    VARCHAR(255),
		details_url     VARCHAR(255),
		publish_date    TIMESTAMPTZ,
		last_modified   TIMESTAMPTZ,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_packages_collection
		ON packages (collection_code)`,
	`CREATE TABLE IF NOT EXISTS ingestion_log (
		id               BIGSERIAL PRIMARY KEY,
		collection_code  VARCHAR(32) NOT NULL,
		offset_value     INTEGER NOT NULL,
		limit_value      INTEGER NOT NULL,
		records_ingested INTEGER NOT NULL DEFAULT 0,
		status           VARCHAR(16) NOT NULL,
		error_message    TEXT,
		started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_log_resume
		ON ingestion_log (collection_code, status)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to ensure schema")
		}
	}
	s.logger.Debug("schema ensured")
	return nil
}
