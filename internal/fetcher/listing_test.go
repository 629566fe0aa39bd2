package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

func TestListing_Has(t *testing.T) {
	l := newListing([]string{"a.tif", "b.tif"})
	assert.True(t, l.has("a.tif"))
	assert.False(t, l.has("c.tif"))

	var missing listing
	assert.False(t, missing.has("a.tif"))
}

func TestFetch_ListingCacheEvictsOldestDirectory(t *testing.T) {
	src := newFakeSource()
	layout := domain.DefaultLayout()
	f, _ := newTestFetcher(t, src)

	day := func(d int) domain.Granule {
		return domain.Granule{Start: time.Date(2019, 2, d, 12, 0, 0, 0, time.UTC)}
	}
	for d := 1; d <= listingCacheSize+1; d++ {
		src.files[layout.RemotePath(day(d))] = []byte("x")
	}

	for d := 1; d <= listingCacheSize+1; d++ {
		rf, err := f.Fetch(context.Background(), day(d))
		require.NoError(t, err)
		require.NoError(t, f.Release(rf))
	}
	assert.Equal(t, listingCacheSize, f.listings.Len())

	// Day 2 is still cached; day 1 was evicted and is listed again.
	for _, d := range []int{2, 1} {
		rf, err := f.Fetch(context.Background(), day(d))
		require.NoError(t, err)
		require.NoError(t, f.Release(rf))
	}
	assert.Equal(t, 1, src.listCalls[layout.Dir(day(2))])
	assert.Equal(t, 2, src.listCalls[layout.Dir(day(1))])
}
