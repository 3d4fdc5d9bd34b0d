package ingest

import (
	"context"

	"github.com/opendiscourse/legisync/pkg/govinfo"
	"github.com/opendiscourse/legisync/pkg/models"
)

// Gateway is the slice of the remote source API the engine consumes.
type Gateway interface {
	Collections(ctx context.Context) ([]govinfo.CollectionInfo, error)
	CollectionPackages(ctx context.Context, req govinfo.PackagesRequest) (*govinfo.PackagesPage, error)
	PackageDetails(ctx context.Context, packageID string) (*govinfo.RawPackage, error)
}

// StateStore tracks ingestion attempts and the resume cursor.
type StateStore interface {
	RecordAttempt(ctx context.Context, code string, offset, limit int) (int64, error)
	CompleteAttempt(ctx context.Context, id int64, status models.AttemptStatus, records int, errMsg string) error
	LastCommittedOffset(ctx context.Context, code string) (int, error)
}

// RecordWriter persists catalog entries and packages idempotently.
type RecordWriter interface {
	UpsertCollection(ctx context.Context, c models.Collection) (models.WriteOutcome, error)
	UpsertPackage(ctx context.Context, p *models.Package) (models.WriteOutcome, error)
}
