package state

import (
	"context"
	"math"
	"sync"

	"quorum/api/internal/store"
)

type Mode int

const (
	ModePages Mode = iota
	ModeInfinite
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
	PhaseError   Phase = "error"
)

// View is what a listing consumer renders: the current rows (page window or
// infinite accumulator, depending on mode) plus pagination metadata.
type View struct {
	Phase      Phase
	Mode       Mode
	Rows       []store.SubmissionWithReplies
	Pagination store.Pagination
	HasMore    bool
	Err        string
}

// Pager drives the fetcher from Store state and reconciles the result:
// clamping the page against the real total, keeping an accumulator in
// infinite mode, and absorbing optimistic row edits until the next fetch
// overwrites them.
type Pager struct {
	store   *Store
	fetcher *Fetcher

	OnlyMine             bool
	UserID               int64
	IncludeThreadReplies bool

	mu           sync.Mutex
	mode         Mode
	phase        Phase
	rows         []store.SubmissionWithReplies
	accumulated  []store.SubmissionWithReplies
	pagination   store.Pagination
	hasMore      bool
	infinitePage int
	lastSig      string
	lastErr      string
}

func NewPager(s *Store, f *Fetcher) *Pager {
	return &Pager{
		store:   s,
		fetcher: f,
		mode:    ModePages,
		phase:   PhaseIdle,
		hasMore: true,
	}
}

func (p *Pager) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := p.rows
	if p.mode == ModeInfinite {
		rows = p.accumulated
	}
	out := make([]store.SubmissionWithReplies, len(rows))
	copy(out, rows)
	return View{
		Phase:      p.phase,
		Mode:       p.mode,
		Rows:       out,
		Pagination: p.pagination,
		HasMore:    p.hasMore,
		Err:        p.lastErr,
	}
}

// SetMode switches presentation mode. Leaving infinite mode drops the
// accumulator; no fetch happens here because the underlying filter state is
// unchanged.
func (p *Pager) SetMode(mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == mode {
		return
	}
	p.mode = mode
	if mode == ModePages {
		p.accumulated = nil
		p.infinitePage = 0
		p.hasMore = true
	}
}

// Load fetches the window for the Store's current page. On success the
// requested page is clamped against the actual total; clamping writes the
// corrected page back to the Store once (a no-op when already equal) and
// fetches the corrected window.
func (p *Pager) Load(ctx context.Context) View {
	snap := p.store.Snapshot()
	req := p.request(snap.Page, snap.PageSize, snap)

	p.setPhase(PhaseLoading)
	result := p.fetcher.Fetch(ctx, req)
	return p.apply(ctx, snap.Page, result)
}

// Refresh bypasses fetch de-duplication, for use after a write action
// reported success.
func (p *Pager) Refresh(ctx context.Context) View {
	snap := p.store.Snapshot()
	req := p.request(snap.Page, snap.PageSize, snap)

	p.setPhase(PhaseLoading)
	result := p.fetcher.Refresh(ctx, req)
	return p.apply(ctx, snap.Page, result)
}

func (p *Pager) apply(ctx context.Context, requestedPage int, result Result) View {
	if result.Stale {
		return p.View()
	}
	if result.Err != "" {
		p.mu.Lock()
		p.phase = PhaseError
		p.lastErr = result.Err
		p.mu.Unlock()
		return p.View()
	}

	corrected := clampPage(requestedPage, result.Pagination.TotalRecords, result.Pagination.PageSize)
	if corrected != requestedPage {
		p.store.SetPage(corrected)
	}

	p.mu.Lock()
	p.phase = PhaseLoaded
	p.lastErr = ""
	p.rows = result.Rows
	p.pagination = result.Pagination
	if p.mode == ModeInfinite {
		p.accumulated = append([]store.SubmissionWithReplies{}, result.Rows...)
		p.infinitePage = result.Pagination.CurrentPage
		p.hasMore = len(result.Rows) == result.Pagination.PageSize
	}
	p.mu.Unlock()
	return p.View()
}

// LoadMore fetches the next infinite-scroll window and appends it. HasMore
// turns false as soon as a short page comes back.
func (p *Pager) LoadMore(ctx context.Context) View {
	p.mu.Lock()
	if p.mode != ModeInfinite || !p.hasMore || p.phase == PhaseLoading {
		p.mu.Unlock()
		return p.View()
	}
	nextPage := p.infinitePage + 1
	p.phase = PhaseLoading
	p.mu.Unlock()

	snap := p.store.Snapshot()
	result := p.fetcher.Fetch(ctx, p.request(nextPage, snap.PageSize, snap))
	if result.Stale {
		return p.View()
	}
	if result.Err != "" {
		p.mu.Lock()
		p.phase = PhaseError
		p.lastErr = result.Err
		p.mu.Unlock()
		return p.View()
	}

	p.mu.Lock()
	p.phase = PhaseLoaded
	p.lastErr = ""
	p.accumulated = append(p.accumulated, result.Rows...)
	p.infinitePage = nextPage
	p.pagination = result.Pagination
	p.hasMore = len(result.Rows) == result.Pagination.PageSize
	p.mu.Unlock()
	return p.View()
}

// OptimisticUpdateSubmission applies patch to the matching row in both the
// paged window and the infinite accumulator. The next real fetch is
// authoritative and overwrites it.
func (p *Pager) OptimisticUpdateSubmission(id int64, patch func(*store.SubmissionWithReplies)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	patchRows(p.rows, id, patch)
	patchRows(p.accumulated, id, patch)
}

// OptimisticRemoveSubmission removes the row and decrements the record count,
// floored at zero. Repeated calls for an already absent id do not drift the
// count.
func (p *Pager) OptimisticRemoveSubmission(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := false
	if next, ok := removeRow(p.rows, id); ok {
		p.rows = next
		removed = true
	}
	if next, ok := removeRow(p.accumulated, id); ok {
		p.accumulated = next
		removed = true
	}
	if removed && p.pagination.TotalRecords > 0 {
		p.pagination.TotalRecords--
	}
}

func (p *Pager) request(page, pageSize int, snap Snapshot) Request {
	return Request{
		Filters:              snap.Filters,
		Page:                 page,
		PageSize:             pageSize,
		OnlyMine:             p.OnlyMine,
		UserID:               p.UserID,
		IncludeThreadReplies: p.IncludeThreadReplies,
	}
}

func (p *Pager) setPhase(phase Phase) {
	p.mu.Lock()
	p.phase = phase
	p.mu.Unlock()
}

func clampPage(page, totalRecords, pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	totalPages := int(math.Ceil(float64(totalRecords) / float64(pageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		return totalPages
	}
	if page < 1 {
		return 1
	}
	return page
}

func patchRows(rows []store.SubmissionWithReplies, id int64, patch func(*store.SubmissionWithReplies)) {
	for i := range rows {
		if rows[i].ID == id {
			patch(&rows[i])
			return
		}
	}
}

func removeRow(rows []store.SubmissionWithReplies, id int64) ([]store.SubmissionWithReplies, bool) {
	for i := range rows {
		if rows[i].ID == id {
			return append(rows[:i:i], rows[i+1:]...), true
		}
	}
	return rows, false
}
