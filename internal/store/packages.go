package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/models"
)

// upsertPackageSQL is a single atomic statement: insert, or update when
// the incoming record is strictly newer, otherwise touch nothing. The
// xmax trick distinguishes a fresh insert from an update of an existing
// row; a conflicting row that is not updated returns no rows at all.
const upsertPackageSQL = `
INSERT INTO packages (package_id, collection_code, title, summary,
	download_url, details_url, publish_date, last_modified, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (package_id) DO UPDATE SET
	collection_code = EXCLUDED.collection_code,
	title           = EXCLUDED.title,
	summary         = EXCLUDED.summary,
	download_url    = EXCLUDED.download_url,
	details_url     = EXCLUDED.details_url,
	publish_date    = EXCLUDED.publish_date,
	last_modified   = EXCLUDED.last_modified,
	metadata        = EXCLUDED.metadata,
	updated_at      = now()
WHERE EXCLUDED.last_modified IS NOT NULL
	AND (packages.last_modified IS NULL
		OR EXCLUDED.last_modified > packages.last_modified)
RETURNING (xmax = 0)`

// UpsertPackage writes one record idempotently. Writing the same
// payload twice yields WriteUnchanged on the second call and leaves a
// single row behind.
func (s *Store) UpsertPackage(ctx context.Context, p *models.Package) (models.WriteOutcome, error) {
	var metadata []byte
	if len(p.Raw) > 0 {
		metadata = []byte(p.Raw)
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, upsertPackageSQL,
		p.PackageID, p.CollectionCode, p.Title, p.Summary,
		p.DownloadURL, p.DetailsURL, p.PublishDate, p.LastModified, metadata).Scan(&inserted)
	if err == pgx.ErrNoRows {
		return models.WriteUnchanged, nil
	}
	if err != nil {
		return models.WriteUnchanged, errors.Wrap(err, errors.ErrorTypeQuery, "failed to upsert package").
			WithDetail("package_id", p.PackageID)
	}
	if inserted {
		return models.WriteInserted, nil
	}
	return models.WriteUpdated, nil
}
