package store

import (
	"context"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/models"
)

const upsertCollectionSQL = `
INSERT INTO collections (collection_code, collection_name, description, last_modified)
VALUES ($1, $2, $3, $4)
ON CONFLICT (collection_code) DO UPDATE SET
	collection_name = EXCLUDED.collection_name,
	description     = EXCLUDED.description,
	last_modified   = EXCLUDED.last_modified,
	updated_at      = now()
RETURNING (xmax = 0)`

// UpsertCollection writes one catalog entry. The collection code is the
// natural key; metadata is refreshed on every sync.
func (s *Store) UpsertCollection(ctx context.Context, c models.Collection) (models.WriteOutcome, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertCollectionSQL,
		c.Code, c.Name, c.Description, c.LastModified).Scan(&inserted)
	if err != nil {
		return models.WriteUnchanged, errors.Wrap(err, errors.ErrorTypeQuery, "failed to upsert collection").
			WithDetail("collection_code", c.Code)
	}
	if inserted {
		return models.WriteInserted, nil
	}
	return models.WriteUpdated, nil
}

// Counts summarizes stored row totals for the stats command.
type Counts struct {
	Collections          int64            `json:"collections"`
	Packages             int64            `json:"packages"`
	LogEntries           int64            `json:"log_entries"`
	PackagesByCollection map[string]int64 `json:"packages_by_collection"`
}

// Counts returns row totals, including a per-collection breakdown.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{PackagesByCollection: make(map[string]int64)}

	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM collections),
			(SELECT count(*) FROM packages),
			(SELECT count(*) FROM ingestion_log)`)
	if err := row.Scan(&c.Collections, &c.Packages, &c.LogEntries); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count rows")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT collection_code, count(*) FROM packages GROUP BY collection_code`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count packages per collection")
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan package count")
		}
		c.PackagesByCollection[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read package counts")
	}
	return c, nil
}
