package app

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"quorum/api/internal/config"
	"quorum/api/internal/query"
	"quorum/api/internal/search"
	"quorum/api/internal/state"
	"quorum/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn       func(context.Context, int64) (store.User, error)
	getUserByEmailFn    func(context.Context, string) (store.User, error)
	createUserFn        func(context.Context, store.User) (int64, error)
	searchUsersFn       func(context.Context, string, int) ([]store.User, error)
	setUserAvatarKeyFn  func(context.Context, int64, string) error
	timeoutUserFn       func(context.Context, store.UserTimeout) error
	clearUserTimeoutFn  func(context.Context, int64) error
	isUserTimedOutFn    func(context.Context, int64) (bool, error)
	recentTagsFn        func(context.Context, int) ([]string, error)
	getSubmissionByIDFn func(context.Context, int64) (store.Submission, error)
	insertSubmissionFn  func(context.Context, store.Submission) (store.Submission, error)
	updateSubmissionFn  func(context.Context, store.Submission, int64) (bool, error)
	deleteSubmissionFn  func(context.Context, int64, int64, bool) (bool, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, Name: "user", Role: "user"}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, errors.New("not found")
}
func (f *fakeStore) CreateUser(ctx context.Context, u store.User) (int64, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, u)
	}
	return 1, nil
}
func (f *fakeStore) SearchUsers(ctx context.Context, q string, limit int) ([]store.User, error) {
	if f.searchUsersFn != nil {
		return f.searchUsersFn(ctx, q, limit)
	}
	return nil, nil
}
func (f *fakeStore) SetUserAvatarKey(ctx context.Context, id int64, key string) error {
	if f.setUserAvatarKeyFn != nil {
		return f.setUserAvatarKeyFn(ctx, id, key)
	}
	return nil
}
func (f *fakeStore) TimeoutUser(ctx context.Context, timeout store.UserTimeout) error {
	if f.timeoutUserFn != nil {
		return f.timeoutUserFn(ctx, timeout)
	}
	return nil
}
func (f *fakeStore) ClearUserTimeout(ctx context.Context, id int64) error {
	if f.clearUserTimeoutFn != nil {
		return f.clearUserTimeoutFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) IsUserTimedOut(ctx context.Context, id int64) (bool, error) {
	if f.isUserTimedOutFn != nil {
		return f.isUserTimedOutFn(ctx, id)
	}
	return false, nil
}
func (f *fakeStore) RecentTags(ctx context.Context, limit int) ([]string, error) {
	if f.recentTagsFn != nil {
		return f.recentTagsFn(ctx, limit)
	}
	return nil, nil
}
func (f *fakeStore) GetSubmissionByID(ctx context.Context, id int64) (store.Submission, error) {
	if f.getSubmissionByIDFn != nil {
		return f.getSubmissionByIDFn(ctx, id)
	}
	return store.Submission{ID: id}, nil
}
func (f *fakeStore) InsertSubmission(ctx context.Context, item store.Submission) (store.Submission, error) {
	if f.insertSubmissionFn != nil {
		return f.insertSubmissionFn(ctx, item)
	}
	item.ID = 1
	return item, nil
}
func (f *fakeStore) UpdateSubmission(ctx context.Context, item store.Submission, userID int64) (bool, error) {
	if f.updateSubmissionFn != nil {
		return f.updateSubmissionFn(ctx, item, userID)
	}
	return true, nil
}
func (f *fakeStore) DeleteSubmission(ctx context.Context, id, userID int64, asModerator bool) (bool, error) {
	if f.deleteSubmissionFn != nil {
		return f.deleteSubmissionFn(ctx, id, userID, asModerator)
	}
	return true, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saveFn    func(context.Context, string, store.User, time.Time) error
	lookupFn  func(context.Context, string) (store.User, error)
	revokedFn func(context.Context, string) (bool, error)
	revoked   []string
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, hash string, user store.User, exp time.Time) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, hash, user, exp)
	}
	return nil
}
func (f *fakeSessions) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, hash)
	}
	return store.User{}, errors.New("token not found or expired")
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.revoked = append(f.revoked, hash)
	return nil
}
func (f *fakeSessions) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeSessions) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.revokedFn != nil {
		return f.revokedFn(ctx, jti)
	}
	return false, nil
}

type fakeSearch struct {
	indexed []search.SubmissionRecord
	deleted []int64
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexSubmission(rec search.SubmissionRecord) { f.indexed = append(f.indexed, rec) }
func (f *fakeSearch) IndexUser(search.UserRecord)                {}
func (f *fakeSearch) DeleteSubmission(id int64)                  { f.deleted = append(f.deleted, id) }

type fakeListSource struct {
	countFn func(context.Context, query.Compiled) (int, error)
	listFn  func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error)
}

func (f *fakeListSource) CountSubmissions(ctx context.Context, compiled query.Compiled) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx, compiled)
	}
	return 0, nil
}
func (f *fakeListSource) ListSubmissions(ctx context.Context, compiled query.Compiled, onlyReplies bool, page, pageSize int) ([]store.SubmissionWithReplies, error) {
	if f.listFn != nil {
		return f.listFn(ctx, compiled, onlyReplies, page, pageSize)
	}
	return nil, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

func newTestService(fs *fakeStore, sessions *fakeSessions, src *fakeListSource) *Service {
	if fs == nil {
		fs = &fakeStore{}
	}
	if sessions == nil {
		sessions = &fakeSessions{}
	}
	if src == nil {
		src = &fakeListSource{}
	}
	return &Service{
		cfg:      testConfig(),
		store:    fs,
		sessions: sessions,
		search:   &fakeSearch{},
		fetcher:  state.NewFetcher(src),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	svc := newTestService(nil, &fakeSessions{}, nil)
	user := store.User{ID: 7, Name: "alice", Role: "user"}

	created, err := svc.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.Token == "" || created.RefreshToken == "" {
		t.Fatalf("session should carry both tokens: %+v", created)
	}

	parsed, err := svc.SessionFromToken(context.Background(), created.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != 7 || parsed.UserName != "alice" || parsed.Role != "user" {
		t.Fatalf("claims did not round-trip: %+v", parsed)
	}
}

func TestSessionFromRevokedToken(t *testing.T) {
	sessions := &fakeSessions{
		revokedFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	svc := newTestService(nil, sessions, nil)
	created, err := svc.CreateSession(context.Background(), store.User{ID: 7, Name: "alice", Role: "user"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), created.Token); err == nil {
		t.Fatalf("revoked token should be rejected")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	sessions := &fakeSessions{
		lookupFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: 7, Name: "alice", Role: "user"}, nil
		},
	}
	svc := newTestService(nil, sessions, nil)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if session.UserID != 7 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(sessions.revoked) != 1 {
		t.Fatalf("the consumed refresh token should be revoked, got %v", sessions.revoked)
	}
}

func TestCreateSubmissionValidation(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	sess := Session{UserID: 7, Role: "user"}

	result, err := svc.CreateSubmission(context.Background(), sess, CreateSubmissionInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != -1 {
		t.Fatalf("empty content should fail: %+v", result)
	}

	result, _ = svc.CreateSubmission(context.Background(), sess, CreateSubmissionInput{Content: "body only"})
	if result.Status != -1 {
		t.Fatalf("top-level post without a title should fail: %+v", result)
	}

	// A reply needs no title.
	parent := int64(3)
	fs := &fakeStore{
		getSubmissionByIDFn: func(_ context.Context, id int64) (store.Submission, error) {
			return store.Submission{ID: id}, nil
		},
	}
	svc = newTestService(fs, nil, nil)
	result, err = svc.CreateSubmission(context.Background(), sess, CreateSubmissionInput{
		Content:        "a reply",
		ThreadParentID: &parent,
	})
	if err != nil || result.Status != 1 {
		t.Fatalf("reply without title should succeed: %+v err=%v", result, err)
	}
}

func TestCreateSubmissionMergesHashtags(t *testing.T) {
	var inserted store.Submission
	fs := &fakeStore{
		insertSubmissionFn: func(_ context.Context, item store.Submission) (store.Submission, error) {
			inserted = item
			item.ID = 1
			return item, nil
		},
	}
	svc := newTestService(fs, nil, nil)

	result, err := svc.CreateSubmission(context.Background(), Session{UserID: 7}, CreateSubmissionInput{
		Title:   "Go and Redis",
		Content: "notes on #golang and #Redis plus #golang again",
		Tags:    []string{"#databases"},
	})
	if err != nil || result.Status != 1 {
		t.Fatalf("create failed: %+v err=%v", result, err)
	}
	want := []string{"databases", "golang", "redis"}
	if len(inserted.Tags) != len(want) {
		t.Fatalf("unexpected tags: %v", inserted.Tags)
	}
	for i := range want {
		if inserted.Tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", inserted.Tags, want)
		}
	}
}

func TestCreateSubmissionReplyToReplyReparents(t *testing.T) {
	root := int64(1)
	var inserted store.Submission
	fs := &fakeStore{
		getSubmissionByIDFn: func(_ context.Context, id int64) (store.Submission, error) {
			if id == 2 {
				return store.Submission{ID: 2, ThreadParentID: &root}, nil
			}
			return store.Submission{ID: id}, nil
		},
		insertSubmissionFn: func(_ context.Context, item store.Submission) (store.Submission, error) {
			inserted = item
			item.ID = 3
			return item, nil
		},
	}
	svc := newTestService(fs, nil, nil)

	replyTo := int64(2)
	result, err := svc.CreateSubmission(context.Background(), Session{UserID: 7}, CreateSubmissionInput{
		Content:        "nested reply",
		ThreadParentID: &replyTo,
	})
	if err != nil || result.Status != 1 {
		t.Fatalf("create failed: %+v err=%v", result, err)
	}
	if inserted.ThreadParentID == nil || *inserted.ThreadParentID != root {
		t.Fatalf("reply to a reply should re-parent to the thread root, got %v", inserted.ThreadParentID)
	}
}

func TestCreateSubmissionTimedOutUser(t *testing.T) {
	fs := &fakeStore{
		isUserTimedOutFn: func(context.Context, int64) (bool, error) { return true, nil },
	}
	svc := newTestService(fs, nil, nil)

	result, err := svc.CreateSubmission(context.Background(), Session{UserID: 7}, CreateSubmissionInput{
		Title:   "t",
		Content: "c",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != -1 || result.Error != "your account is timed out" {
		t.Fatalf("timed out users must not post: %+v", result)
	}
}

func TestEditSubmissionOwnership(t *testing.T) {
	fs := &fakeStore{
		updateSubmissionFn: func(_ context.Context, _ store.Submission, userID int64) (bool, error) {
			return userID == 7, nil
		},
	}
	svc := newTestService(fs, nil, nil)

	result, _ := svc.EditSubmission(context.Background(), Session{UserID: 9}, EditSubmissionInput{
		ID: 1, Content: "edited",
	})
	if result.Status != -1 {
		t.Fatalf("editing someone else's post should fail: %+v", result)
	}

	result, _ = svc.EditSubmission(context.Background(), Session{UserID: 7}, EditSubmissionInput{
		ID: 1, Content: "edited",
	})
	if result.Status != 1 {
		t.Fatalf("owner edit should succeed: %+v", result)
	}
}

func TestDeleteSubmissionModeratorOverride(t *testing.T) {
	var sawModerator bool
	fs := &fakeStore{
		deleteSubmissionFn: func(_ context.Context, _, _ int64, asModerator bool) (bool, error) {
			sawModerator = asModerator
			return true, nil
		},
	}
	svc := newTestService(fs, nil, nil)

	if _, err := svc.DeleteSubmission(context.Background(), Session{UserID: 9, Role: "moderator"}, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !sawModerator {
		t.Fatalf("moderator role should delete with override")
	}

	svc.DeleteSubmission(context.Background(), Session{UserID: 9, Role: "user"}, 1)
	if sawModerator {
		t.Fatalf("plain users must not get the override")
	}
}

func TestListSubmissionsShape(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			return []store.SubmissionWithReplies{{Submission: store.Submission{ID: 42}}}, nil
		},
	}
	svc := newTestService(nil, nil, src)

	values := url.Values{}
	values.Set("tags", "golang")
	payload := svc.ListSubmissions(context.Background(), values, Session{})

	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data envelope: %+v", payload)
	}
	rows, ok := data["submissions"].([]store.SubmissionWithReplies)
	if !ok || len(rows) != 1 || rows[0].ID != 42 {
		t.Fatalf("unexpected submissions: %+v", data["submissions"])
	}
	if _, ok := data["pagination"].(store.Pagination); !ok {
		t.Fatalf("expected pagination: %+v", data)
	}
}

func TestListSubmissionsErrorEnvelope(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) {
			return 0, errors.New("connection refused")
		},
	}
	svc := newTestService(nil, nil, src)

	payload := svc.ListSubmissions(context.Background(), url.Values{}, Session{})
	if payload["error"] == nil {
		t.Fatalf("fetch failure should come back as an error payload: %+v", payload)
	}
}

func TestListSubmissionsOnlyMineRequiresSession(t *testing.T) {
	var sawMine bool
	src := &fakeListSource{
		countFn: func(_ context.Context, compiled query.Compiled) (int, error) {
			for _, p := range compiled.Params {
				if p == int64(7) {
					sawMine = true
				}
			}
			return 0, nil
		},
	}
	svc := newTestService(nil, nil, src)

	values := url.Values{}
	values.Set("onlyMine", "true")

	svc.ListSubmissions(context.Background(), values, Session{})
	if sawMine {
		t.Fatalf("anonymous onlyMine should be ignored")
	}

	svc.ListSubmissions(context.Background(), values, Session{UserID: 7})
	if !sawMine {
		t.Fatalf("authenticated onlyMine should scope the query")
	}
}

func TestTimeoutUserGuards(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id int64) (store.User, error) {
			if id == 99 {
				return store.User{ID: 99, Role: "admin"}, nil
			}
			return store.User{ID: id, Role: "user"}, nil
		},
	}
	svc := newTestService(fs, nil, nil)
	ctx := context.Background()

	if err := svc.TimeoutUser(ctx, Session{UserID: 1, Role: "user"}, 2, "spam", 0); err == nil {
		t.Fatalf("plain users must not issue timeouts")
	}
	if err := svc.TimeoutUser(ctx, Session{UserID: 1, Role: "moderator"}, 1, "spam", 0); err == nil {
		t.Fatalf("self timeout should be rejected")
	}
	if err := svc.TimeoutUser(ctx, Session{UserID: 1, Role: "moderator"}, 99, "spam", 0); err == nil {
		t.Fatalf("admins must not be timed out")
	}
	if err := svc.TimeoutUser(ctx, Session{UserID: 1, Role: "moderator"}, 2, "spam", 0); err != nil {
		t.Fatalf("moderator timeout should succeed: %v", err)
	}
}

func TestExtractHashtags(t *testing.T) {
	tags := ExtractHashtags("shipping #GoLang v2, see #release-notes and #Go_Lang")
	want := []string{"golang", "release-notes", "go_lang"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", tags, want)
		}
	}
}

func singleListing(t *testing.T, svc *Service) *listingSession {
	t.Helper()
	svc.listMu.Lock()
	defer svc.listMu.Unlock()
	if len(svc.listings) != 1 {
		t.Fatalf("expected one listing session, got %d", len(svc.listings))
	}
	for _, ls := range svc.listings {
		return ls
	}
	return nil
}

func TestListSubmissionsClampWritesBackToListingStore(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 25, nil },
		listFn: func(_ context.Context, _ query.Compiled, _ bool, page, _ int) ([]store.SubmissionWithReplies, error) {
			return []store.SubmissionWithReplies{{Submission: store.Submission{ID: int64(page)}}}, nil
		},
	}
	svc := newTestService(nil, nil, src)

	values := url.Values{}
	values.Set("page", "99")
	payload := svc.ListSubmissions(context.Background(), values, Session{})

	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data envelope: %+v", payload)
	}
	pag, ok := data["pagination"].(store.Pagination)
	if !ok || pag.CurrentPage != 3 {
		t.Fatalf("page 99 of 25 records should clamp to 3: %+v", data["pagination"])
	}

	ls := singleListing(t, svc)
	if got := ls.store.Snapshot().Page; got != 3 {
		t.Fatalf("corrected page should be written back to the listing store, got %d", got)
	}
	canonical, _ := data["query"].(string)
	if !strings.Contains(canonical, "page=3") {
		t.Fatalf("canonical query should mirror the corrected page, got %q", canonical)
	}
}

func TestListSubmissionsInfiniteAccumulates(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 25, nil },
		listFn: func(_ context.Context, _ query.Compiled, _ bool, page, pageSize int) ([]store.SubmissionWithReplies, error) {
			start := (page - 1) * pageSize
			n := pageSize
			if start+n > 25 {
				n = 25 - start
			}
			out := make([]store.SubmissionWithReplies, 0, n)
			for i := 0; i < n; i++ {
				out = append(out, store.SubmissionWithReplies{Submission: store.Submission{ID: int64(start + i + 1)}})
			}
			return out, nil
		},
	}
	svc := newTestService(nil, nil, src)

	values := url.Values{}
	values.Set("mode", "infinite")
	payload := svc.ListSubmissions(context.Background(), values, Session{})
	data := payload["data"].(map[string]any)
	if rows := data["submissions"].([]store.SubmissionWithReplies); len(rows) != 10 {
		t.Fatalf("first window should hold 10 rows, got %d", len(rows))
	}
	if hasMore, _ := data["hasMore"].(bool); !hasMore {
		t.Fatalf("a full window should report more rows")
	}

	more := url.Values{}
	more.Set("mode", "infinite")
	more.Set("loadMore", "true")
	payload = svc.ListSubmissions(context.Background(), more, Session{})
	data = payload["data"].(map[string]any)
	rows := data["submissions"].([]store.SubmissionWithReplies)
	if len(rows) != 20 {
		t.Fatalf("loadMore should append the next window, got %d rows", len(rows))
	}
	if rows[10].ID != 11 {
		t.Fatalf("accumulator should keep windows in order, got id %d", rows[10].ID)
	}
}

func TestDeleteSubmissionPatchesListings(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 2, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			return []store.SubmissionWithReplies{
				{Submission: store.Submission{ID: 1}},
				{Submission: store.Submission{ID: 2}},
			}, nil
		},
	}
	svc := newTestService(nil, nil, src)
	svc.ListSubmissions(context.Background(), url.Values{}, Session{})

	res, err := svc.DeleteSubmission(context.Background(), Session{UserID: 5}, 2)
	if err != nil || res.Status != 1 {
		t.Fatalf("delete failed: %+v %v", res, err)
	}

	ls := singleListing(t, svc)
	ls.refresh.Stop()
	view := ls.pager.View()
	if len(view.Rows) != 1 || view.Rows[0].ID != 1 {
		t.Fatalf("deleted row should leave every listing window: %+v", view.Rows)
	}
	if view.Pagination.TotalRecords != 1 {
		t.Fatalf("record count should follow the removal, got %d", view.Pagination.TotalRecords)
	}
}

func TestEditSubmissionPatchesListings(t *testing.T) {
	src := &fakeListSource{
		countFn: func(context.Context, query.Compiled) (int, error) { return 1, nil },
		listFn: func(context.Context, query.Compiled, bool, int, int) ([]store.SubmissionWithReplies, error) {
			return []store.SubmissionWithReplies{
				{Submission: store.Submission{ID: 1, Title: "old title", Name: "old content"}},
			}, nil
		},
	}
	fs := &fakeStore{
		getSubmissionByIDFn: func(_ context.Context, id int64) (store.Submission, error) {
			return store.Submission{ID: id, Title: "new title", Name: "new content"}, nil
		},
	}
	svc := newTestService(fs, nil, src)
	svc.ListSubmissions(context.Background(), url.Values{}, Session{})

	res, err := svc.EditSubmission(context.Background(), Session{UserID: 5}, EditSubmissionInput{
		ID: 1, Title: "new title", Content: "new content",
	})
	if err != nil || res.Status != 1 {
		t.Fatalf("edit failed: %+v %v", res, err)
	}

	ls := singleListing(t, svc)
	ls.refresh.Stop()
	view := ls.pager.View()
	if len(view.Rows) != 1 || view.Rows[0].Title != "new title" || view.Rows[0].Name != "new content" {
		t.Fatalf("edited row should be patched in place: %+v", view.Rows)
	}
}

func TestLogoutDropsUserListings(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	svc.ListSubmissions(context.Background(), url.Values{}, Session{UserID: 7})
	svc.ListSubmissions(context.Background(), url.Values{}, Session{})

	svc.listMu.Lock()
	before := len(svc.listings)
	svc.listMu.Unlock()
	if before != 2 {
		t.Fatalf("expected sessions for both viewers, got %d", before)
	}

	if err := svc.Logout(context.Background(), Session{UserID: 7, JTI: "jti_x", ExpiresAt: time.Now().Add(time.Hour)}, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	svc.listMu.Lock()
	defer svc.listMu.Unlock()
	if len(svc.listings) != 1 {
		t.Fatalf("logout should drop the user's listing sessions, got %d", len(svc.listings))
	}
	for key := range svc.listings {
		if strings.HasPrefix(key, "u7:") {
			t.Fatalf("user 7 session survived logout: %s", key)
		}
	}
}
