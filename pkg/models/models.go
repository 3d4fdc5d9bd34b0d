// Package models defines the core domain types shared between the
// gateway, the ingestion engine, and the store.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Collection identifies a logical stream of records at the remote
// source. Identity is the code; the remaining metadata is mutable and
// refreshed on catalog sync.
type Collection struct {
	Code         string     `json:"collection_code"`
	Name         string     `json:"collection_name"`
	Description  string     `json:"description"`
	LastModified *time.Time `json:"last_modified"`
}

// Package is one ingested record. PackageID is globally unique; writing
// the same ID twice must not create a duplicate row.
type Package struct {
	PackageID      string     `json:"package_id"`
	CollectionCode string     `json:"collection_code"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	DownloadURL    string     `json:"download_url"`
	DetailsURL     string     `json:"details_url"`
	PublishDate    *time.Time `json:"publish_date"`
	LastModified   *time.Time `json:"last_modified"`
	// Raw retains the full source payload for forward compatibility
	Raw json.RawMessage `json:"raw"`
}

// AttemptStatus is the state of one ingestion log entry.
type AttemptStatus string

const (
	// AttemptStarted marks an attempt that has begun but not completed.
	// Started rows never contribute to the resume cursor, so a crash
	// mid-batch causes the range to be refetched.
	AttemptStarted AttemptStatus = "started"
	// AttemptSuccess marks a durably committed batch
	AttemptSuccess AttemptStatus = "success"
	// AttemptError marks a failed batch
	AttemptError AttemptStatus = "error"
)

// IngestionLogEntry records one fetch attempt against a collection.
type IngestionLogEntry struct {
	ID              int64         `json:"id"`
	CollectionCode  string        `json:"collection_code"`
	Offset          int           `json:"offset_value"`
	Limit           int           `json:"limit_value"`
	RecordsIngested int           `json:"records_ingested"`
	Status          AttemptStatus `json:"status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// WriteOutcome classifies the effect of an upsert.
type WriteOutcome int

const (
	// WriteInserted means a new row was created
	WriteInserted WriteOutcome = iota
	// WriteUpdated means an existing row was refreshed with newer data
	WriteUpdated
	// WriteUnchanged means the row already held data at least as new;
	// reported as a duplicate skip
	WriteUnchanged
)

// String returns the outcome name.
func (o WriteOutcome) String() string {
	switch o {
	case WriteInserted:
		return "inserted"
	case WriteUpdated:
		return "updated"
	case WriteUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// RunSummary is the operator-facing result of one ingestion run.
type RunSummary struct {
	CollectionCode    string        `json:"collection_code"`
	TotalIngested     int           `json:"total_ingested"`
	Inserted          int           `json:"inserted"`
	Updated           int           `json:"updated"`
	DuplicatesSkipped int           `json:"duplicates_skipped"`
	BatchesCompleted  int           `json:"batches_completed"`
	LastOffset        int           `json:"last_offset"`
	ErrorCount        int           `json:"error_count"`
	// Errors holds at most the first N error messages of the run
	Errors     []string      `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"records_per_second"`
}

// CatalogSummary is the result of a collection catalog sync.
type CatalogSummary struct {
	TotalCollections int      `json:"total_collections"`
	Inserted         int      `json:"inserted"`
	Updated          int      `json:"updated"`
	Errors           []string `json:"errors,omitempty"`
}
