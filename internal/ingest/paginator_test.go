package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginatorStopsAfterShortPage(t *testing.T) {
	p := newPaginator(0, 100, 0)

	// 250 records served as 100, 100, 50
	returns := []int{100, 100, 50}
	var fetches int
	for {
		offset, limit, ok := p.next()
		if !ok {
			break
		}
		require.Less(t, fetches, len(returns), "must not fetch past the short page")
		assert.Equal(t, fetches*100, offset)
		assert.Equal(t, 100, limit)
		p.advance(limit, returns[fetches])
		fetches++
	}

	assert.Equal(t, 3, fetches)
	assert.Equal(t, 250, p.offset)
}

func TestPaginatorStopsOnEmptyPage(t *testing.T) {
	p := newPaginator(0, 50, 0)

	offset, limit, ok := p.next()
	require.True(t, ok)
	assert.Zero(t, offset)
	assert.Equal(t, 50, limit)

	p.advance(limit, 0)
	_, _, ok = p.next()
	assert.False(t, ok)
}

func TestPaginatorResumesFromStartOffset(t *testing.T) {
	p := newPaginator(300, 100, 0)
	offset, _, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, 300, offset)
}

func TestPaginatorOffsetAdvancesByActualCount(t *testing.T) {
	p := newPaginator(0, 100, 0)

	_, limit, _ := p.next()
	p.advance(limit, 80) // short page before the requested limit
	assert.Equal(t, 80, p.offset)

	_, _, ok := p.next()
	assert.False(t, ok, "short page ends pagination")
}

func TestPaginatorMaxRecordsCapsFetches(t *testing.T) {
	p := newPaginator(0, 100, 250)

	var limits []int
	for {
		_, limit, ok := p.next()
		if !ok {
			break
		}
		limits = append(limits, limit)
		p.advance(limit, limit) // full pages available
	}

	assert.Equal(t, []int{100, 100, 50}, limits)
	assert.Equal(t, 250, p.fetched)
}

func TestPaginatorAbort(t *testing.T) {
	p := newPaginator(0, 100, 0)
	_, _, ok := p.next()
	require.True(t, ok)

	p.abort()
	_, _, ok = p.next()
	assert.False(t, ok)
}
