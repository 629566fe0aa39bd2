package fetcher

// listingCacheSize bounds the cached directory listings. An APD window spans
// two remote day directories, so a handful of entries covers a run.
const listingCacheSize = 4

// listing is the set of file names found in one remote directory. A nil
// listing means the directory itself does not exist.
type listing map[string]struct{}

func newListing(names []string) listing {
	l := make(listing, len(names))
	for _, n := range names {
		l[n] = struct{}{}
	}
	return l
}

func (l listing) has(name string) bool {
	_, ok := l[name]
	return ok
}
