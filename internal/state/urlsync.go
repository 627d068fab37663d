package state

import (
	"net/url"
	"sync"

	"quorum/api/internal/filter"
)

// Navigator abstracts the address bar. Replace must not trigger a reload or
// feed the new query back into Seed.
type Navigator interface {
	Query() url.Values
	Replace(values url.Values)
}

// URLSync mirrors one Store into the query string. The URL is read exactly
// once to seed the Store; after that the Store is the single writer, and a
// write is skipped whenever the serialized target equals what the navigator
// already shows. That comparison breaks the state to URL to state cycle.
type URLSync struct {
	mu    sync.Mutex
	store *Store
	nav   Navigator
}

// NewURLSync seeds the Store from the navigator's current query and starts
// mirroring subsequent mutations back into it.
func NewURLSync(store *Store, nav Navigator) *URLSync {
	s := &URLSync{store: store, nav: nav}
	dec := filter.Decode(nav.Query())
	store.Seed(dec)
	store.Subscribe(func(Event) { s.push() })
	return s
}

func (s *URLSync) push() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.store.Snapshot()
	target := filter.Encode(snap.Filters, snap.Page)
	if canonicalQuery(target) == canonicalQuery(s.nav.Query()) {
		return
	}
	s.nav.Replace(target)
}

// canonicalQuery reduces a query string to a comparable form. Encode sorts
// keys already; parsing and re-encoding the navigator side strips escaping
// differences.
func canonicalQuery(values url.Values) string {
	return values.Encode()
}
