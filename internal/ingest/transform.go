package ingest

import (
	"time"
	"unicode/utf8"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/govinfo"
	"github.com/opendiscourse/legisync/pkg/models"
)

// Column limits of the packages table. Longer source values are
// truncated rather than rejected.
const (
	maxTitleLen   = 512
	maxSummaryLen = 2000
	maxURLLen     = 255
)

// timeFormats are tried in order when parsing source timestamps.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// transformPackage normalizes one raw source record into a Package.
// Malformed records return a data error and are counted against the
// run, never aborting the batch they arrived in.
func transformPackage(code string, raw *govinfo.RawPackage) (*models.Package, error) {
	if raw.PackageID == "" {
		return nil, errors.New(errors.ErrorTypeData, "record has no package ID")
	}

	pkg := &models.Package{
		PackageID:      raw.PackageID,
		CollectionCode: code,
		Title:          truncate(raw.Title, maxTitleLen),
		Summary:        truncate(raw.Summary, maxSummaryLen),
		DownloadURL:    truncate(raw.DownloadURL, maxURLLen),
		DetailsURL:     truncate(raw.DetailsURL, maxURLLen),
		Raw:            raw.Raw,
	}

	var err error
	if pkg.PublishDate, err = parseTime(raw.PublishDate); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid publish date").
			WithDetail("package_id", raw.PackageID)
	}
	if pkg.LastModified, err = parseTime(raw.LastModified); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid last modified date").
			WithDetail("package_id", raw.PackageID)
	}

	return pkg, nil
}

// parseTime parses a source timestamp; empty input yields nil.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeFormats {
		t, err := time.Parse(layout, s)
		if err == nil {
			return &t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
