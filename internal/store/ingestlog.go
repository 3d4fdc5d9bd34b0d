package store

import (
	"context"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/models"
)

// RecordAttempt logs the start of a batch fetch and returns the log row
// id. Started rows are invisible to the resume cursor until completed.
func (s *Store) RecordAttempt(ctx context.Context, code string, offset, limit int) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_log (collection_code, offset_value, limit_value, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		code, offset, limit, models.AttemptStarted).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to record ingestion attempt").
			WithDetail("collection_code", code)
	}
	return id, nil
}

// CompleteAttempt finalizes a previously recorded attempt in place,
// setting its terminal status, record count, and completion time.
func (s *Store) CompleteAttempt(ctx context.Context, id int64, status models.AttemptStatus, records int, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingestion_log
		SET status = $2, records_ingested = $3, error_message = NULLIF($4, ''), completed_at = now()
		WHERE id = $1`,
		id, status, records, errMsg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to complete ingestion attempt")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrorTypeNotFound, "ingestion attempt not found").
			WithDetail("attempt_id", id)
	}
	return nil
}

// LastCommittedOffset returns the resume cursor for a collection: the
// highest offset+limit among successful attempts, or 0 when none exist.
// Interrupted attempts stay in 'started' and never advance the cursor,
// so their range is refetched on the next run.
func (s *Store) LastCommittedOffset(ctx context.Context, code string) (int, error) {
	var offset int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(offset_value + limit_value), 0)
		FROM ingestion_log
		WHERE collection_code = $1 AND status = $2`,
		code, models.AttemptSuccess).Scan(&offset)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read resume cursor").
			WithDetail("collection_code", code)
	}
	return offset, nil
}
