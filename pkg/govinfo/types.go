package govinfo

import (
	"github.com/goccy/go-json"
)

// CollectionInfo is one entry of the remote collection catalog.
type CollectionInfo struct {
	CollectionCode string `json:"collectionCode"`
	CollectionName string `json:"collectionName"`
	Description    string `json:"description"`
	LastModified   string `json:"lastModified"`
	PackageCount   int64  `json:"packageCount"`
}

type collectionsResponse struct {
	Collections []CollectionInfo `json:"collections"`
}

// PackagesRequest describes one page fetch against a collection.
type PackagesRequest struct {
	Code      string
	Offset    int
	PageSize  int
	StartDate string // YYYY-MM-DD, optional
	EndDate   string // YYYY-MM-DD, optional
}

// PackagesPage is one bounded batch of packages returned by a single
// fetch. Offset and Limit echo the request so callers can log attempts
// without carrying the request around.
type PackagesPage struct {
	Count    int          `json:"count"`
	Packages []RawPackage `json:"packages"`
	Offset   int          `json:"-"`
	Limit    int          `json:"-"`
}

// RawPackage is a package as returned by the source: the known fields
// plus the complete raw payload for forward compatibility.
type RawPackage struct {
	PackageID    string
	Title        string
	Summary      string
	DownloadURL  string
	DetailsURL   string
	PublishDate  string
	LastModified string
	Raw          json.RawMessage
}

// UnmarshalJSON decodes the known fields and retains the full payload.
func (p *RawPackage) UnmarshalJSON(data []byte) error {
	var fields struct {
		PackageID    string `json:"packageId"`
		Title        string `json:"title"`
		Summary      string `json:"summary"`
		DownloadURL  string `json:"downloadUrl"`
		DetailsURL   string `json:"detailsUrl"`
		PublishDate  string `json:"publishDate"`
		LastModified string `json:"lastModified"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	p.PackageID = fields.PackageID
	p.Title = fields.Title
	p.Summary = fields.Summary
	p.DownloadURL = fields.DownloadURL
	p.DetailsURL = fields.DetailsURL
	p.PublishDate = fields.PublishDate
	p.LastModified = fields.LastModified
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}
