package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/govinfo"
	"github.com/opendiscourse/legisync/pkg/models"
)

// fakeGateway serves a fixed record set through offset pagination.
type fakeGateway struct {
	mu       sync.Mutex
	catalog  []govinfo.CollectionInfo
	records  []govinfo.RawPackage
	fetches  int
	failAt   int // fail the fetch at this offset; -1 disables
	failWith error
}

func newFakeGateway(n int) *fakeGateway {
	g := &fakeGateway{failAt: -1}
	for i := 0; i < n; i++ {
		g.records = append(g.records, govinfo.RawPackage{
			PackageID:    fmt.Sprintf("BILLS-%04d", i),
			Title:        fmt.Sprintf("Bill %d", i),
			LastModified: "2025-01-01T00:00:00Z",
		})
	}
	return g
}

func (g *fakeGateway) Collections(ctx context.Context) ([]govinfo.CollectionInfo, error) {
	return g.catalog, nil
}

func (g *fakeGateway) CollectionPackages(ctx context.Context, req govinfo.PackagesRequest) (*govinfo.PackagesPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.failAt >= 0 && req.Offset == g.failAt {
		return nil, g.failWith
	}

	start := req.Offset
	if start > len(g.records) {
		start = len(g.records)
	}
	end := start + req.PageSize
	if end > len(g.records) {
		end = len(g.records)
	}
	return &govinfo.PackagesPage{
		Count:    len(g.records),
		Packages: g.records[start:end],
		Offset:   req.Offset,
		Limit:    req.PageSize,
	}, nil
}

func (g *fakeGateway) PackageDetails(ctx context.Context, id string) (*govinfo.RawPackage, error) {
	for i := range g.records {
		if g.records[i].PackageID == id {
			return &g.records[i], nil
		}
	}
	return nil, errors.New(errors.ErrorTypeNotFound, "package not found")
}

// memStore is an in-memory StateStore + RecordWriter with the same
// upsert and resume-cursor semantics as the SQL store.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	attempts    map[int64]*models.IngestionLogEntry
	collections map[string]models.Collection
	packages    map[string]*models.Package
}

func newMemStore() *memStore {
	return &memStore{
		attempts:    make(map[int64]*models.IngestionLogEntry),
		collections: make(map[string]models.Collection),
		packages:    make(map[string]*models.Package),
	}
}

func (m *memStore) RecordAttempt(ctx context.Context, code string, offset, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.attempts[m.nextID] = &models.IngestionLogEntry{
		ID:             m.nextID,
		CollectionCode: code,
		Offset:         offset,
		Limit:          limit,
		Status:         models.AttemptStarted,
	}
	return m.nextID, nil
}

func (m *memStore) CompleteAttempt(ctx context.Context, id int64, status models.AttemptStatus, records int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "ingestion attempt not found")
	}
	a.Status = status
	a.RecordsIngested = records
	a.ErrorMessage = errMsg
	return nil
}

func (m *memStore) LastCommittedOffset(ctx context.Context, code string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, a := range m.attempts {
		if a.CollectionCode == code && a.Status == models.AttemptSuccess {
			if end := a.Offset + a.Limit; end > max {
				max = end
			}
		}
	}
	return max, nil
}

func (m *memStore) UpsertCollection(ctx context.Context, c models.Collection) (models.WriteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.collections[c.Code]
	m.collections[c.Code] = c
	if exists {
		return models.WriteUpdated, nil
	}
	return models.WriteInserted, nil
}

func (m *memStore) UpsertPackage(ctx context.Context, p *models.Package) (models.WriteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.packages[p.PackageID]
	if !ok {
		m.packages[p.PackageID] = p
		return models.WriteInserted, nil
	}
	if p.LastModified != nil &&
		(existing.LastModified == nil || p.LastModified.After(*existing.LastModified)) {
		m.packages[p.PackageID] = p
		return models.WriteUpdated, nil
	}
	return models.WriteUnchanged, nil
}

func newTestEngine(g Gateway, s *memStore) *Engine {
	return NewEngine(g, s, s, zap.NewNop())
}

func TestIngestCollectionBatches250Records(t *testing.T) {
	gateway := newFakeGateway(250)
	store := newMemStore()
	engine := newTestEngine(gateway, store)

	summary, err := engine.IngestCollection(context.Background(), Options{
		Code:      "BILLS",
		BatchSize: 100,
		Workers:   4,
	})
	require.NoError(t, err)

	assert.Equal(t, 250, summary.TotalIngested)
	assert.Equal(t, 250, summary.Inserted)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.DuplicatesSkipped)
	assert.Equal(t, 3, summary.BatchesCompleted, "250 records at batch 100 is 3 batches")
	assert.Equal(t, 250, summary.LastOffset)
	assert.Zero(t, summary.ErrorCount)
	assert.Equal(t, 3, gateway.fetches, "short final page must end pagination")
	assert.Len(t, store.packages, 250)

	for _, a := range store.attempts {
		assert.Equal(t, models.AttemptSuccess, a.Status)
	}
}

func TestRerunSkipsDuplicates(t *testing.T) {
	gateway := newFakeGateway(250)
	store := newMemStore()

	_, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 100, Workers: 4,
	})
	require.NoError(t, err)
	require.Len(t, store.packages, 250)

	// a second pass over the same data, as after a cursor reset: every
	// record collides with an identical stored row
	rerunState := newMemStore()
	rerunState.packages = store.packages
	summary, err := newTestEngine(gateway, rerunState).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 100, Workers: 4,
	})
	require.NoError(t, err)

	assert.Zero(t, summary.Inserted)
	assert.Zero(t, summary.Updated)
	assert.Equal(t, 250, summary.DuplicatesSkipped)
	assert.Len(t, store.packages, 250, "no duplicate rows after rerun")
}

func TestCrashRecoveryResumesAfterLastCommittedBatch(t *testing.T) {
	gateway := newFakeGateway(250)
	store := newMemStore()

	// simulate a crash after batch 1 committed and batch 2 interrupted:
	// the started row must not advance the cursor
	id, err := store.RecordAttempt(context.Background(), "BILLS", 0, 100)
	require.NoError(t, err)
	require.NoError(t, store.CompleteAttempt(context.Background(), id, models.AttemptSuccess, 100, ""))
	_, err = store.RecordAttempt(context.Background(), "BILLS", 100, 100)
	require.NoError(t, err)

	summary, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 100, Workers: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 150, summary.TotalIngested, "resumes at offset 100, not 0 and not 200")
	assert.Equal(t, 2, summary.BatchesCompleted)
	assert.Equal(t, 250, summary.LastOffset)
}

func TestPerRecordErrorsDoNotAbortBatch(t *testing.T) {
	gateway := newFakeGateway(50)
	gateway.records[7].PackageID = "" // malformed record
	gateway.records[23].LastModified = "garbage"
	store := newMemStore()

	summary, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 50, Workers: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 48, summary.Inserted)
	assert.Equal(t, 2, summary.ErrorCount)
	assert.Len(t, summary.Errors, 2)
	assert.Len(t, store.packages, 48)
}

func TestErrorListCappedButCountIsNot(t *testing.T) {
	gateway := newFakeGateway(40)
	for i := range gateway.records {
		gateway.records[i].PackageID = ""
	}
	store := newMemStore()

	summary, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 40, Workers: 4, MaxErrors: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 40, summary.ErrorCount)
	assert.Len(t, summary.Errors, 10)
}

func TestFailedFetchLogsErrorAttemptAndStops(t *testing.T) {
	gateway := newFakeGateway(250)
	gateway.failAt = 100
	gateway.failWith = errors.New(errors.ErrorTypeConnection, "request failed after 3 attempts")
	store := newMemStore()

	summary, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 100, Workers: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 100, summary.TotalIngested)
	assert.Equal(t, 1, summary.BatchesCompleted)
	assert.Equal(t, 1, summary.ErrorCount)

	var failed *models.IngestionLogEntry
	for _, a := range store.attempts {
		if a.Status == models.AttemptError {
			failed = a
		}
	}
	require.NotNil(t, failed, "failed fetch must be logged")
	assert.Equal(t, 100, failed.Offset)
	assert.Contains(t, failed.ErrorMessage, "request failed")

	// next run resumes exactly at the failed batch
	offset, err := store.LastCommittedOffset(context.Background(), "BILLS")
	require.NoError(t, err)
	assert.Equal(t, 100, offset)
}

func TestMaxRecordsStopsEarly(t *testing.T) {
	gateway := newFakeGateway(1000)
	store := newMemStore()

	summary, err := newTestEngine(gateway, store).IngestCollection(context.Background(), Options{
		Code: "BILLS", BatchSize: 100, MaxRecords: 250, Workers: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, 250, summary.TotalIngested)
	assert.Equal(t, 3, gateway.fetches, "100+100+50 and stop")
}

func TestSyncCollections(t *testing.T) {
	gateway := newFakeGateway(0)
	gateway.catalog = []govinfo.CollectionInfo{
		{CollectionCode: "BILLS", CollectionName: "Congressional Bills", LastModified: "2025-01-01T00:00:00Z"},
		{CollectionCode: "CREC", CollectionName: "Congressional Record"},
	}
	store := newMemStore()
	engine := newTestEngine(gateway, store)

	summary, err := engine.SyncCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCollections)
	assert.Equal(t, 2, summary.Inserted)
	assert.Zero(t, summary.Updated)

	summary, err = engine.SyncCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)
	assert.Zero(t, summary.Inserted)
}

func TestIngestPackageDetails(t *testing.T) {
	gateway := newFakeGateway(20)
	store := newMemStore()

	ids := []string{"BILLS-0001", "BILLS-0005", "BILLS-0019", "BILLS-missing"}
	summary, err := newTestEngine(gateway, store).IngestPackageDetails(context.Background(), "BILLS", ids, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Len(t, store.packages, 3)
}

func TestCancelledRunStopsBeforeNextBatch(t *testing.T) {
	gateway := newFakeGateway(1000)
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestEngine(gateway, store).IngestCollection(ctx, Options{
		Code: "BILLS", BatchSize: 100, Workers: 4,
	})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalIngested)
	assert.Zero(t, gateway.fetches, "no new pages after cancellation")
}
