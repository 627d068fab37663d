package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quorum/api/internal/filter"
	"quorum/api/internal/query"
	"quorum/api/internal/store"
)

type fakeSource struct {
	mu        sync.Mutex
	countFn   func(context.Context, query.Compiled) (int, error)
	listFn    func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error)
	countHits int
	listHits  int
}

func (f *fakeSource) CountSubmissions(ctx context.Context, compiled query.Compiled) (int, error) {
	f.mu.Lock()
	f.countHits++
	f.mu.Unlock()
	if f.countFn != nil {
		return f.countFn(ctx, compiled)
	}
	return 0, nil
}

func (f *fakeSource) ListSubmissions(ctx context.Context, compiled query.Compiled, onlyReplies bool, page, pageSize int) ([]store.SubmissionWithReplies, error) {
	f.mu.Lock()
	f.listHits++
	f.mu.Unlock()
	if f.listFn != nil {
		return f.listFn(ctx, compiled, onlyReplies, page, pageSize)
	}
	return nil, nil
}

func rowsOf(ids ...int64) []store.SubmissionWithReplies {
	out := make([]store.SubmissionWithReplies, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.SubmissionWithReplies{Submission: store.Submission{ID: id}})
	}
	return out
}

func TestFetchReturnsRowsAndPagination(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 25, nil },
		listFn: func(_ context.Context, _ query.Compiled, _ bool, page, pageSize int) ([]store.SubmissionWithReplies, error) {
			if page != 2 || pageSize != 10 {
				t.Fatalf("unexpected window: page=%d size=%d", page, pageSize)
			}
			return rowsOf(11, 12), nil
		},
	}
	f := NewFetcher(source)

	result := f.Fetch(context.Background(), Request{Page: 2, PageSize: 10})
	if result.Err != "" {
		t.Fatalf("unexpected error: %s", result.Err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.Pagination.TotalRecords != 25 || result.Pagination.CurrentPage != 2 {
		t.Fatalf("unexpected pagination: %+v", result.Pagination)
	}
}

func TestFetchClampsPageBeyondTotal(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 25, nil },
		listFn: func(_ context.Context, _ query.Compiled, _ bool, page, _ int) ([]store.SubmissionWithReplies, error) {
			if page != 3 {
				t.Fatalf("page 99 of 25 records should clamp to 3, got %d", page)
			}
			return rowsOf(21), nil
		},
	}
	f := NewFetcher(source)

	result := f.Fetch(context.Background(), Request{Page: 99, PageSize: 10})
	if result.Pagination.CurrentPage != 3 {
		t.Fatalf("pagination should carry the clamped page: %+v", result.Pagination)
	}
}

func TestFetchEmptyResultClampsToPageOne(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 0, nil },
	}
	f := NewFetcher(source)

	result := f.Fetch(context.Background(), Request{Page: 7, PageSize: 10})
	if result.Pagination.CurrentPage != 1 {
		t.Fatalf("zero records should clamp to page 1: %+v", result.Pagination)
	}
}

func TestFetchDedupsRepeatedSignature(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			return rowsOf(1), nil
		},
	}
	f := NewFetcher(source)
	req := Request{Page: 1, PageSize: 10}

	first := f.Fetch(context.Background(), req)
	second := f.Fetch(context.Background(), req)

	if first.Deduped {
		t.Fatalf("first fetch should run")
	}
	if !second.Deduped {
		t.Fatalf("identical repeat should be deduped")
	}
	if source.countHits != 1 {
		t.Fatalf("expected a single storage round trip, got %d", source.countHits)
	}
	if len(second.Rows) != 1 {
		t.Fatalf("dedup should return the cached rows: %+v", second)
	}
}

func TestRefreshBypassesDedup(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
	}
	f := NewFetcher(source)
	req := Request{Page: 1, PageSize: 10}

	f.Fetch(context.Background(), req)
	result := f.Refresh(context.Background(), req)
	if result.Deduped {
		t.Fatalf("refresh must not dedup")
	}
	if source.countHits != 2 {
		t.Fatalf("expected two round trips, got %d", source.countHits)
	}
}

func TestSlowResponseSupersededByNewerIsStale(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{
		countFn: func(_ context.Context, compiled query.Compiled) (int, error) { return 1, nil },
		listFn: func(_ context.Context, compiled query.Compiled, _ bool, _, _ int) ([]store.SubmissionWithReplies, error) {
			// The first request carries one tag parameter; hold it until the
			// second request has completed.
			if len(compiled.Params) == 1 {
				<-release
				return rowsOf(1), nil
			}
			return rowsOf(2), nil
		},
	}
	f := NewFetcher(source)

	slowReq := Request{
		Filters:  filter.NewSet(filter.Filter{Name: filter.Tags, Value: "#slow"}),
		Page:     1,
		PageSize: 10,
	}
	fastReq := Request{Page: 1, PageSize: 10}

	var slow Result
	done := make(chan struct{})
	go func() {
		slow = f.Fetch(context.Background(), slowReq)
		close(done)
	}()

	// Wait until the slow request is parked in the list call before issuing
	// the newer one.
	for {
		source.mu.Lock()
		parked := source.listHits >= 1
		source.mu.Unlock()
		if parked {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fast := f.Fetch(context.Background(), fastReq)
	close(release)
	<-done

	if fast.Stale {
		t.Fatalf("the newer request should apply")
	}
	if !slow.Stale {
		t.Fatalf("the superseded response should be marked stale")
	}

	// The cached result must still be the newer one.
	cached := f.Fetch(context.Background(), fastReq)
	if !cached.Deduped || len(cached.Rows) != 1 || cached.Rows[0].ID != 2 {
		t.Fatalf("stale response must not overwrite the applied result: %+v", cached)
	}
}

func TestFetchStorageFailureBecomesMessage(t *testing.T) {
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	f := NewFetcher(source)

	result := f.Fetch(context.Background(), Request{Page: 1, PageSize: 10})
	if result.Err == "" {
		t.Fatalf("storage failure should surface as a message")
	}
	if result.Rows != nil {
		t.Fatalf("failed fetch should carry no rows")
	}
}

func TestFetchJoinsIdenticalInflightRequest(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			<-release
			return rowsOf(41), nil
		},
	}
	f := NewFetcher(source)
	req := Request{Page: 1, PageSize: 10}

	var first, second Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.Fetch(context.Background(), req)
	}()
	for {
		source.mu.Lock()
		parked := source.listHits >= 1
		source.mu.Unlock()
		if parked {
			break
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		second = f.Fetch(context.Background(), req)
	}()
	time.Sleep(5 * time.Millisecond)
	close(release)
	wg.Wait()

	if first.Err != "" || len(first.Rows) != 1 {
		t.Fatalf("owner fetch failed: %+v", first)
	}
	if !second.Deduped {
		t.Fatalf("identical in-flight request should be deduped")
	}
	if len(second.Rows) != 1 || second.Rows[0].ID != 41 {
		t.Fatalf("joined result must carry the in-flight rows, got %+v", second.Rows)
	}
	if second.Pagination.TotalRecords != 1 {
		t.Fatalf("joined result must carry real pagination, got %+v", second.Pagination)
	}
	source.mu.Lock()
	hits := source.listHits
	source.mu.Unlock()
	if hits != 1 {
		t.Fatalf("identical requests should share one round trip, got %d", hits)
	}
}

func TestFetchJoinerHonorsContextCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	source := &fakeSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			<-release
			return rowsOf(1), nil
		},
	}
	f := NewFetcher(source)
	req := Request{Page: 1, PageSize: 10}

	go f.Fetch(context.Background(), req)
	for {
		source.mu.Lock()
		parked := source.listHits >= 1
		source.mu.Unlock()
		if parked {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.Fetch(ctx, req)
	if result.Err == "" {
		t.Fatalf("cancelled joiner should report an error")
	}
}
