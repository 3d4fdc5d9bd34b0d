package ingest

// paginator tracks the offset cursor across batch fetches. The offset
// advances by the number of records actually returned, not the
// requested page size, so a short page before end-of-stream cannot
// skip records.
type paginator struct {
	offset     int
	batchSize  int
	maxRecords int // 0 means unlimited
	fetched    int
	done       bool
}

func newPaginator(start, batchSize, maxRecords int) *paginator {
	return &paginator{
		offset:     start,
		batchSize:  batchSize,
		maxRecords: maxRecords,
	}
}

// next returns the offset and limit of the next fetch, or ok=false when
// pagination has ended.
func (p *paginator) next() (offset, limit int, ok bool) {
	if p.done {
		return 0, 0, false
	}
	limit = p.batchSize
	if p.maxRecords > 0 {
		remaining := p.maxRecords - p.fetched
		if remaining <= 0 {
			p.done = true
			return 0, 0, false
		}
		if remaining < limit {
			limit = remaining
		}
	}
	return p.offset, limit, true
}

// advance moves the cursor past a fetched page. A page shorter than the
// requested limit marks the end of the stream.
func (p *paginator) advance(requested, returned int) {
	p.offset += returned
	p.fetched += returned
	if returned < requested {
		p.done = true
	}
}

// abort terminates pagination after a failed fetch.
func (p *paginator) abort() {
	p.done = true
}
