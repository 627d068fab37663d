package state

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"quorum/api/internal/filter"
	"quorum/api/internal/query"
	"quorum/api/internal/store"
)

// DefaultFetchTimeout bounds a single storage round trip so the pipeline can
// never sit in a loading state forever.
const DefaultFetchTimeout = 30 * time.Second

// Request is the full input of one fetch: filter state plus the caller-scoped
// flags that shape the compiled query.
type Request struct {
	Filters              filter.Set
	Page                 int
	PageSize             int
	OnlyMine             bool
	UserID               int64
	IncludeThreadReplies bool
}

// Signature is a stable key over every field that influences the result.
// Two requests with equal signatures would run identical SQL.
func (r Request) Signature() string {
	var b strings.Builder
	b.WriteString(r.Filters.Signature())
	b.WriteString("|p=")
	b.WriteString(strconv.Itoa(r.Page))
	b.WriteString("|ps=")
	b.WriteString(strconv.Itoa(r.PageSize))
	b.WriteString("|mine=")
	b.WriteString(strconv.FormatBool(r.OnlyMine))
	b.WriteString("|uid=")
	b.WriteString(strconv.FormatInt(r.UserID, 10))
	b.WriteString("|thr=")
	b.WriteString(strconv.FormatBool(r.IncludeThreadReplies))
	return b.String()
}

func (r Request) onlyReplies() bool {
	value, _ := r.Filters.First(filter.OnlyReplies)
	return value == "true"
}

// Result is the fetch outcome. Err is a message rather than an error value
// because storage failures are recovered here and rendered, never rethrown.
type Result struct {
	Rows       []store.SubmissionWithReplies
	Pagination store.Pagination
	Err        string
	Stale      bool
	Deduped    bool
}

// Source is the storage surface the fetcher consumes. *store.PostgresStore
// satisfies it.
type Source interface {
	CountSubmissions(ctx context.Context, compiled query.Compiled) (int, error)
	ListSubmissions(ctx context.Context, compiled query.Compiled, onlyReplies bool, page, pageSize int) ([]store.SubmissionWithReplies, error)
}

// Fetcher runs count and data queries for a filter state. It de-duplicates
// identical requests and discards responses that a newer request has
// superseded, so results apply in issue order per context.
type Fetcher struct {
	source  Source
	timeout time.Duration

	mu         sync.Mutex
	generation uint64
	applied    uint64
	inflight   map[string]*inflightFetch
	lastSig    string
	lastResult Result
}

// inflightFetch lets identical requests join one storage round trip. The
// owner writes result before closing done; joiners read it after.
type inflightFetch struct {
	done   chan struct{}
	result Result
}

func NewFetcher(source Source) *Fetcher {
	return &Fetcher{
		source:   source,
		timeout:  DefaultFetchTimeout,
		inflight: make(map[string]*inflightFetch),
	}
}

// SetTimeout overrides the liveness timeout. Zero restores the default.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	f.timeout = d
}

// Fetch runs the request unless an identical one is in flight or was the most
// recently completed fetch. A repeat of the last completed request is served
// from the cache; a repeat of an in-flight request joins it and returns its
// result. Both paths set Deduped.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Result {
	sig := req.Signature()

	f.mu.Lock()
	if sig == f.lastSig {
		cached := f.lastResult
		f.mu.Unlock()
		cached.Deduped = true
		return cached
	}
	if call, ok := f.inflight[sig]; ok {
		f.mu.Unlock()
		select {
		case <-call.done:
			joined := call.result
			joined.Deduped = true
			return joined
		case <-ctx.Done():
			return Result{Err: fmt.Sprintf("fetch submissions: %v", ctx.Err())}
		}
	}
	call := &inflightFetch{done: make(chan struct{})}
	f.inflight[sig] = call
	f.generation++
	gen := f.generation
	f.mu.Unlock()

	result := f.run(ctx, req)

	f.mu.Lock()
	delete(f.inflight, sig)
	if gen < f.applied {
		f.mu.Unlock()
		result.Stale = true
		call.result = result
		close(call.done)
		return result
	}
	f.applied = gen
	f.lastSig = sig
	f.lastResult = result
	f.mu.Unlock()
	call.result = result
	close(call.done)
	return result
}

// Refresh bypasses de-duplication and forces a fresh round trip.
func (f *Fetcher) Refresh(ctx context.Context, req Request) Result {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.mu.Unlock()

	result := f.run(ctx, req)

	f.mu.Lock()
	if gen < f.applied {
		f.mu.Unlock()
		result.Stale = true
		return result
	}
	f.applied = gen
	f.lastSig = req.Signature()
	f.lastResult = result
	f.mu.Unlock()
	return result
}

func (f *Fetcher) run(ctx context.Context, req Request) Result {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = filter.DefaultPageSize
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	compiled := query.Compile(req.Filters, query.Options{
		OnlyMine:             req.OnlyMine,
		UserID:               req.UserID,
		IncludeThreadReplies: req.IncludeThreadReplies,
	})

	total, err := f.source.CountSubmissions(ctx, compiled)
	if err != nil {
		return f.fail("count", compiled, err)
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	rows, err := f.source.ListSubmissions(ctx, compiled, req.onlyReplies(), page, pageSize)
	if err != nil {
		return f.fail("list", compiled, err)
	}

	return Result{
		Rows: rows,
		Pagination: store.Pagination{
			CurrentPage:  page,
			PageSize:     pageSize,
			TotalRecords: total,
		},
	}
}

func (f *Fetcher) fail(op string, compiled query.Compiled, err error) Result {
	where := compiled.Where
	if len(where) > 200 {
		where = where[:200] + "..."
	}
	log.Printf("fetcher: %s query failed (%d params, where %q): %v", op, len(compiled.Params), where, err)
	return Result{Err: fmt.Sprintf("fetch submissions: %v", err)}
}
