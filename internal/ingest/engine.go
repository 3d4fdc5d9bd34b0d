// Package ingest implements the resumable ingestion engine: a paginated
// batch loop over the gateway, per-record fan-out across a worker pool,
// and attempt logging that lets an interrupted run resume where the
// last committed batch ended.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/govinfo"
	"github.com/opendiscourse/legisync/pkg/metrics"
	"github.com/opendiscourse/legisync/pkg/models"
)

// Options controls one ingestion run.
type Options struct {
	Code       string
	BatchSize  int
	MaxRecords int // 0 means ingest to end of stream
	StartDate  string
	EndDate    string
	Workers    int
	QueueSize  int
	// MaxErrors caps how many error messages the summary retains;
	// the error count itself is never capped.
	MaxErrors int
}

func (o *Options) applyDefaults() {
	if o.BatchSize < 1 {
		o.BatchSize = 100
	}
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.QueueSize < o.BatchSize {
		o.QueueSize = o.BatchSize
	}
	if o.MaxErrors < 1 {
		o.MaxErrors = 10
	}
}

// Engine drives ingestion runs against a gateway, a state store, and a
// record writer.
type Engine struct {
	gateway Gateway
	state   StateStore
	writer  RecordWriter
	logger  *zap.Logger
}

// NewEngine creates an ingestion engine.
func NewEngine(gateway Gateway, state StateStore, writer RecordWriter, logger *zap.Logger) *Engine {
	return &Engine{
		gateway: gateway,
		state:   state,
		writer:  writer,
		logger:  logger.With(zap.String("component", "engine")),
	}
}

// SyncCollections refreshes the local collection catalog from the
// remote source.
func (e *Engine) SyncCollections(ctx context.Context) (*models.CatalogSummary, error) {
	infos, err := e.gateway.Collections(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to fetch collection catalog")
	}

	summary := &models.CatalogSummary{TotalCollections: len(infos)}
	for _, info := range infos {
		lastModified, err := parseTime(info.LastModified)
		if err != nil {
			summary.Errors = append(summary.Errors,
				errors.Newf(errors.ErrorTypeData, "collection %s: invalid last modified", info.CollectionCode).Error())
			continue
		}

		outcome, err := e.writer.UpsertCollection(ctx, models.Collection{
			Code:         info.CollectionCode,
			Name:         info.CollectionName,
			Description:  info.Description,
			LastModified: lastModified,
		})
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
			metrics.IngestErrors.WithLabelValues("catalog").Inc()
			continue
		}
		switch outcome {
		case models.WriteInserted:
			summary.Inserted++
		default:
			summary.Updated++
		}
	}

	e.logger.Info("collection catalog synced",
		zap.Int("total", summary.TotalCollections),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// IngestCollection runs the paginated batch loop for one collection,
// resuming from the last committed offset. Per-record failures are
// isolated and counted; a failed batch fetch ends the run with the
// attempt logged as an error.
func (e *Engine) IngestCollection(ctx context.Context, opts Options) (*models.RunSummary, error) {
	if opts.Code == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "collection code is required")
	}
	opts.applyDefaults()

	logger := e.logger.With(zap.String("collection", opts.Code))
	start, err := e.state.LastCommittedOffset(ctx, opts.Code)
	if err != nil {
		return nil, err
	}
	logger.Info("starting ingestion run",
		zap.Int("resume_offset", start),
		zap.Int("batch_size", opts.BatchSize),
		zap.Int("workers", opts.Workers))

	pool := NewWorkerPool(opts.QueueSize, logger)
	if err := pool.Start(ctx, opts.Workers); err != nil {
		return nil, err
	}

	runStart := time.Now()
	summary := &models.RunSummary{CollectionCode: opts.Code, LastOffset: start}
	pages := newPaginator(start, opts.BatchSize, opts.MaxRecords)

	for {
		if ctx.Err() != nil {
			logger.Warn("run cancelled, stopping before next batch")
			break
		}
		offset, limit, ok := pages.next()
		if !ok {
			break
		}

		n, err := e.ingestPage(ctx, pool, opts, offset, limit, summary, logger)
		if err != nil {
			summary.ErrorCount++
			addRunError(summary, opts.MaxErrors, err.Error())
			metrics.IngestErrors.WithLabelValues("fetch").Inc()
			pages.abort()
			break
		}
		if n == 0 {
			break
		}
		pages.advance(limit, n)
		summary.LastOffset = offset + n
		summary.BatchesCompleted++
	}

	if ctx.Err() != nil {
		pool.Stop()
	} else {
		pool.Drain()
	}
	e.finalize(summary, runStart)
	logger.Info("ingestion run finished",
		zap.Int("total", summary.TotalIngested),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("duplicates", summary.DuplicatesSkipped),
		zap.Int("batches", summary.BatchesCompleted),
		zap.Int("errors", summary.ErrorCount),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// ingestPage fetches one page, fans its records out over the pool, and
// logs the attempt. Returns the number of records the page contained.
func (e *Engine) ingestPage(ctx context.Context, pool *WorkerPool, opts Options, offset, limit int, summary *models.RunSummary, logger *zap.Logger) (int, error) {
	attemptID, err := e.state.RecordAttempt(ctx, opts.Code, offset, limit)
	if err != nil {
		return 0, err
	}

	page, err := e.gateway.CollectionPackages(ctx, govinfo.PackagesRequest{
		Code:      opts.Code,
		Offset:    offset,
		PageSize:  limit,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
	})
	if err != nil {
		if logErr := e.state.CompleteAttempt(ctx, attemptID, models.AttemptError, 0, err.Error()); logErr != nil {
			logger.Error("failed to log batch failure", zap.Error(logErr))
		}
		return 0, err
	}

	if len(page.Packages) == 0 {
		if err := e.state.CompleteAttempt(ctx, attemptID, models.AttemptSuccess, 0, ""); err != nil {
			return 0, err
		}
		return 0, nil
	}

	submitted := 0
	for i := range page.Packages {
		raw := &page.Packages[i]
		task := Task{
			PackageID: raw.PackageID,
			Run: func(ctx context.Context) (models.WriteOutcome, error) {
				pkg, err := transformPackage(opts.Code, raw)
				if err != nil {
					metrics.IngestErrors.WithLabelValues("transform").Inc()
					return models.WriteUnchanged, err
				}
				outcome, err := e.writer.UpsertPackage(ctx, pkg)
				if err != nil {
					metrics.IngestErrors.WithLabelValues("write").Inc()
					return models.WriteUnchanged, err
				}
				return outcome, nil
			},
		}
		if err := pool.Submit(ctx, task); err != nil {
			summary.ErrorCount++
			addRunError(summary, opts.MaxErrors, err.Error())
			continue
		}
		submitted++
	}

	// exactly one result per submitted task
	ingested := 0
	for i := 0; i < submitted; i++ {
		r := <-pool.Results()
		if r.Err != nil {
			summary.ErrorCount++
			addRunError(summary, opts.MaxErrors, r.Err.Error())
			continue
		}
		ingested++
		metrics.RecordsIngested.WithLabelValues(opts.Code, r.Outcome.String()).Inc()
		switch r.Outcome {
		case models.WriteInserted:
			summary.Inserted++
		case models.WriteUpdated:
			summary.Updated++
		case models.WriteUnchanged:
			summary.DuplicatesSkipped++
		}
	}

	if err := e.state.CompleteAttempt(ctx, attemptID, models.AttemptSuccess, ingested, ""); err != nil {
		return 0, err
	}
	logger.Debug("batch committed",
		zap.Int("offset", offset),
		zap.Int("returned", len(page.Packages)),
		zap.Int("ingested", ingested))
	return len(page.Packages), nil
}

// IngestPackageDetails fetches and stores full metadata for an explicit
// set of package IDs, fanned out over the worker pool.
func (e *Engine) IngestPackageDetails(ctx context.Context, code string, ids []string, workers int) (*models.RunSummary, error) {
	opts := Options{Code: code, Workers: workers, QueueSize: len(ids)}
	opts.applyDefaults()

	pool := NewWorkerPool(opts.QueueSize, e.logger)
	if err := pool.Start(ctx, opts.Workers); err != nil {
		return nil, err
	}

	runStart := time.Now()
	summary := &models.RunSummary{CollectionCode: code}

	submitted := 0
	for _, id := range ids {
		id := id
		task := Task{
			PackageID: id,
			Run: func(ctx context.Context) (models.WriteOutcome, error) {
				raw, err := e.gateway.PackageDetails(ctx, id)
				if err != nil {
					metrics.IngestErrors.WithLabelValues("fetch").Inc()
					return models.WriteUnchanged, err
				}
				pkg, err := transformPackage(code, raw)
				if err != nil {
					metrics.IngestErrors.WithLabelValues("transform").Inc()
					return models.WriteUnchanged, err
				}
				outcome, err := e.writer.UpsertPackage(ctx, pkg)
				if err != nil {
					metrics.IngestErrors.WithLabelValues("write").Inc()
					return models.WriteUnchanged, err
				}
				return outcome, nil
			},
		}
		if err := pool.Submit(ctx, task); err != nil {
			summary.ErrorCount++
			addRunError(summary, opts.MaxErrors, err.Error())
			continue
		}
		submitted++
	}

	for i := 0; i < submitted; i++ {
		r := <-pool.Results()
		if r.Err != nil {
			summary.ErrorCount++
			addRunError(summary, opts.MaxErrors, r.Err.Error())
			continue
		}
		metrics.RecordsIngested.WithLabelValues(code, r.Outcome.String()).Inc()
		switch r.Outcome {
		case models.WriteInserted:
			summary.Inserted++
		case models.WriteUpdated:
			summary.Updated++
		case models.WriteUnchanged:
			summary.DuplicatesSkipped++
		}
	}

	pool.Drain()
	e.finalize(summary, runStart)
	return summary, nil
}

// addRunError appends a message to the summary's capped error list.
// The cap applies to retained messages only, never to ErrorCount.
func addRunError(summary *models.RunSummary, max int, msg string) {
	if len(summary.Errors) < max {
		summary.Errors = append(summary.Errors, msg)
	}
}

func (e *Engine) finalize(summary *models.RunSummary, runStart time.Time) {
	summary.TotalIngested = summary.Inserted + summary.Updated + summary.DuplicatesSkipped
	summary.Duration = time.Since(runStart)
	if summary.Duration > 0 {
		summary.Throughput = float64(summary.TotalIngested) / summary.Duration.Seconds()
	}
	metrics.RunDuration.Observe(summary.Duration.Seconds())
}
