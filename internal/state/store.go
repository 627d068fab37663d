// Package state holds the per-context filter and pagination state machine:
// an authoritative Store mutated by user actions, a URL synchronizer that
// mirrors it into the query string, a fetcher that turns it into storage
// queries, and a pager that reconciles discrete and infinite presentation.
package state

import (
	"sync"

	"quorum/api/internal/filter"
)

type EventType string

const (
	FilterAdded     EventType = "filter_added"
	FilterRemoved   EventType = "filter_removed"
	FiltersCleared  EventType = "filters_cleared"
	PageChanged     EventType = "page_changed"
	PageSizeChanged EventType = "page_size_changed"
)

// Event describes one committed Store mutation. Subscribers receive events
// after the mutation is applied, outside the Store lock.
type Event struct {
	Type     EventType
	Context  string
	Filter   filter.Filter
	Page     int
	PageSize int
}

// Snapshot is an immutable copy of the Store at one point in time.
type Snapshot struct {
	Filters  filter.Set
	Page     int
	PageSize int
}

// Store is the single owner of filter and pagination state for one context
// key. All mutations are synchronous; interested parties subscribe for
// change events instead of polling.
type Store struct {
	mu       sync.Mutex
	context  string
	filters  filter.Set
	page     int
	pageSize int
	subs     []func(Event)
}

func NewStore(contextKey string) *Store {
	return &Store{
		context:  contextKey,
		filters:  filter.NewSet(),
		page:     1,
		pageSize: filter.DefaultPageSize,
	}
}

func (s *Store) Context() string { return s.context }

// Subscribe registers a listener for every committed mutation. Listeners are
// invoked synchronously in registration order.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Filters: s.filters.Clone(), Page: s.page, PageSize: s.pageSize}
}

// Seed loads decoded URL state into the Store without dispatching events.
// It is called exactly once per Store, before any subscriber reacts, so the
// initial state never echoes back into the URL.
func (s *Store) Seed(dec filter.Decoded) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = dec.Filters.Clone()
	s.page = dec.Page
	s.pageSize = dec.PageSize
}

// AddFilter appends a filter unless an identical (name, value) pair already
// exists. Any actual change resets the page to 1.
func (s *Store) AddFilter(f filter.Filter) bool {
	s.mu.Lock()
	changed := s.filters.Add(f)
	if changed {
		s.page = 1
	}
	subs, event := s.eventLocked(FilterAdded, f)
	s.mu.Unlock()
	if changed {
		dispatch(subs, event)
	}
	return changed
}

// AddFilters applies a batch of filters and resets the page once, so a bulk
// mutation produces a single downstream refetch.
func (s *Store) AddFilters(fs []filter.Filter) bool {
	s.mu.Lock()
	changed := false
	for _, f := range fs {
		if s.filters.Add(f) {
			changed = true
		}
	}
	if changed {
		s.page = 1
	}
	subs, event := s.eventLocked(FilterAdded, filter.Filter{})
	s.mu.Unlock()
	if changed {
		dispatch(subs, event)
	}
	return changed
}

// RemoveFilter removes all filters with the given name, or only the matching
// value when one is supplied. For multi-valued types a value match may strip
// one element out of a comma-joined entry instead of deleting the filter.
func (s *Store) RemoveFilter(name filter.Name, value string) bool {
	s.mu.Lock()
	var changed bool
	if value == "" {
		changed = s.filters.Remove(name)
	} else {
		changed = s.filters.RemoveValue(name, value)
	}
	if changed {
		s.page = 1
	}
	subs, event := s.eventLocked(FilterRemoved, filter.Filter{Name: name, Value: value})
	s.mu.Unlock()
	if changed {
		dispatch(subs, event)
	}
	return changed
}

// RemoveTag removes a tag filter, matching either the "#tag" or bare "tag"
// form.
func (s *Store) RemoveTag(tag string) bool {
	s.mu.Lock()
	changed := s.filters.RemoveTag(tag)
	if changed {
		s.page = 1
	}
	subs, event := s.eventLocked(FilterRemoved, filter.Filter{Name: filter.Tags, Value: tag})
	s.mu.Unlock()
	if changed {
		dispatch(subs, event)
	}
	return changed
}

// UpdateFilter replaces the value of an existing filter or creates it. The
// page is left alone, which makes it the right mutation for logic toggles.
func (s *Store) UpdateFilter(name filter.Name, value string) bool {
	s.mu.Lock()
	changed := s.filters.Update(name, value)
	subs, event := s.eventLocked(FilterAdded, filter.Filter{Name: name, Value: value})
	s.mu.Unlock()
	if changed {
		dispatch(subs, event)
	}
	return changed
}

func (s *Store) ClearFilters() {
	s.mu.Lock()
	s.filters.Clear()
	s.page = 1
	subs, event := s.eventLocked(FiltersCleared, filter.Filter{})
	s.mu.Unlock()
	dispatch(subs, event)
}

func (s *Store) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	if s.page == page {
		s.mu.Unlock()
		return
	}
	s.page = page
	subs, event := s.eventLocked(PageChanged, filter.Filter{})
	s.mu.Unlock()
	dispatch(subs, event)
}

func (s *Store) SetPageSize(size int) {
	if size < 1 {
		size = filter.DefaultPageSize
	}
	s.mu.Lock()
	if s.pageSize == size {
		s.mu.Unlock()
		return
	}
	s.pageSize = size
	s.page = 1
	subs, event := s.eventLocked(PageSizeChanged, filter.Filter{})
	s.mu.Unlock()
	dispatch(subs, event)
}

func (s *Store) eventLocked(typ EventType, f filter.Filter) ([]func(Event), Event) {
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	return subs, Event{Type: typ, Context: s.context, Filter: f, Page: s.page, PageSize: s.pageSize}
}

func dispatch(subs []func(Event), event Event) {
	for _, fn := range subs {
		fn(event)
	}
}
