package app

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"quorum/api/internal/filter"
	"quorum/api/internal/state"
)

// queryMirror is the server-side address bar for one listing context. It
// holds the canonical query string the Store state serializes to, returned
// with every listing response so clients can keep their URL in step.
type queryMirror struct {
	mu     sync.Mutex
	values url.Values
}

func newQueryMirror(values url.Values) *queryMirror {
	return &queryMirror{values: copyValues(values)}
}

func (m *queryMirror) Query() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyValues(m.values)
}

func (m *queryMirror) Replace(values url.Values) {
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
}

// Canonical returns the encoded form of the mirrored query.
func (m *queryMirror) Canonical() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values.Encode()
}

func copyValues(values url.Values) url.Values {
	copied := url.Values{}
	for key, vs := range values {
		copied[key] = append([]string(nil), vs...)
	}
	return copied
}

// listingSession binds one listing context's state machine together: the
// Store owning filter and page state, the Pager reconciling fetch results,
// the query mirror, and a debounced refresh fired after write actions.
type listingSession struct {
	store   *state.Store
	pager   *state.Pager
	mirror  *queryMirror
	urlSync *state.URLSync
	refresh *state.Debouncer
}

// listingKey scopes one Store per listing context. The viewer id and the
// visibility flags are part of the key so no two users, and no two modes of
// the same user, ever share mutable state.
func listingKey(contextName string, userID int64, onlyMine, includeThreadReplies bool) string {
	if contextName == "" {
		contextName = "main"
	}
	return "u" + strconv.FormatInt(userID, 10) +
		":mine=" + strconv.FormatBool(onlyMine) +
		":thr=" + strconv.FormatBool(includeThreadReplies) +
		":" + contextName
}

// listingFor returns the session for key, creating it on first access. A new
// session's Store is seeded from the request query through the URL
// synchronizer, the same way an address bar seeds a fresh view.
func (s *Service) listingFor(key string, values url.Values, userID int64, onlyMine, includeThreadReplies bool) *listingSession {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	if s.listings == nil {
		s.listings = make(map[string]*listingSession)
	}
	if s.registry == nil {
		s.registry = state.NewRegistry()
	}
	if ls, ok := s.listings[key]; ok {
		return ls
	}

	st := s.registry.Context(key)
	mirror := newQueryMirror(values)
	urlSync := state.NewURLSync(st, mirror)
	pager := state.NewPager(st, s.fetcher)
	pager.OnlyMine = onlyMine
	pager.UserID = userID
	pager.IncludeThreadReplies = includeThreadReplies

	ls := &listingSession{store: st, pager: pager, mirror: mirror, urlSync: urlSync}
	ls.refresh = state.NewDebouncer(state.DefaultDebounce, func() {
		ls.pager.Refresh(context.Background())
	})
	s.listings[key] = ls
	return ls
}

// apply reconciles the session's Store to the request's decoded state. Every
// real change goes through the normal mutation path, so page resets and the
// query mirror stay consistent with interactive mutations.
func (ls *listingSession) apply(dec filter.Decoded) {
	snap := ls.store.Snapshot()
	if snap.Filters.Signature() != dec.Filters.Signature() {
		ls.store.ClearFilters()
		ls.store.AddFilters(dec.Filters.Entries())
	}
	if snap.PageSize != dec.PageSize {
		ls.store.SetPageSize(dec.PageSize)
	}
	ls.store.SetPage(dec.Page)
}

// forEachListing runs fn over a snapshot of the live listing sessions.
func (s *Service) forEachListing(fn func(*listingSession)) {
	s.listMu.Lock()
	sessions := make([]*listingSession, 0, len(s.listings))
	for _, ls := range s.listings {
		sessions = append(sessions, ls)
	}
	s.listMu.Unlock()
	for _, ls := range sessions {
		fn(ls)
	}
}

// dropListingsFor removes every listing session belonging to userID, on
// logout. Stopping the refresh debouncer keeps a dropped session from
// fetching afterwards.
func (s *Service) dropListingsFor(userID int64) {
	prefix := "u" + strconv.FormatInt(userID, 10) + ":"
	s.listMu.Lock()
	for key, ls := range s.listings {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		ls.refresh.Stop()
		delete(s.listings, key)
		if s.registry != nil {
			s.registry.Clear(key)
		}
	}
	s.listMu.Unlock()
}
