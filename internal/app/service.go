package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"quorum/api/internal/auth"
	"quorum/api/internal/authpw"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/filter"
	"quorum/api/internal/media"
	"quorum/api/internal/rbac"
	"quorum/api/internal/search"
	"quorum/api/internal/session"
	"quorum/api/internal/state"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

const (
	maxTitleLength   = 300
	maxContentLength = 10000
	maxTagsPerPost   = 10
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// ActionResult is the contract for write actions: status 1 on success, -1 on
// failure, with a message or error for the caller to display.
type ActionResult struct {
	Status     int               `json:"status"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	Submission *store.Submission `json:"submission,omitempty"`
}

type dataStore interface {
	GetUserByID(context.Context, int64) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (int64, error)
	SearchUsers(context.Context, string, int) ([]store.User, error)
	SetUserAvatarKey(context.Context, int64, string) error
	TimeoutUser(context.Context, store.UserTimeout) error
	ClearUserTimeout(context.Context, int64) error
	IsUserTimedOut(context.Context, int64) (bool, error)
	RecentTags(context.Context, int) ([]string, error)
	GetSubmissionByID(context.Context, int64) (store.Submission, error)
	InsertSubmission(context.Context, store.Submission) (store.Submission, error)
	UpdateSubmission(context.Context, store.Submission, int64) (bool, error)
	DeleteSubmission(context.Context, int64, int64, bool) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexSubmission(search.SubmissionRecord)
	IndexUser(search.UserRecord)
	DeleteSubmission(int64)
}

type mediaStore interface {
	UploadAvatar(context.Context, int64, io.Reader, int64, string) (string, error)
	AvatarURL(context.Context, string) (string, error)
	RemoveAvatar(context.Context, string) error
}

type mailer interface {
	IsConfigured() bool
	SendWelcomeEmail(to, userName string) error
	SendTimeoutNotice(to, userName, reason string, until time.Time) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   searchIndex
	media    mediaStore
	mail     mailer
	fetcher  *state.Fetcher

	listMu   sync.Mutex
	registry *state.Registry
	listings map[string]*listingSession
}

// New wires the service. media and mail may be nil when avatar storage or
// SMTP is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, authSvc *authpw.Service, searchSvc *search.Service, mediaSvc *media.Service, mailSvc *email.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		search:   searchSvc,
		fetcher:  state.NewFetcher(dataStore),
		registry: state.NewRegistry(),
		listings: make(map[string]*listingSession),
	}
	svc.fetcher.SetTimeout(cfg.FetchTimeout)
	if mediaSvc != nil {
		svc.media = mediaSvc
	}
	if mailSvc != nil {
		svc.mail = mailSvc
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues an access token and a refresh token for a user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if session.UserID > 0 {
		s.dropListingsFor(session.UserID)
	}
	return nil
}

// ListSubmissions drives the listing state machine for one request: the
// query parameters are decoded into the context-keyed Store, the Pager loads
// and reconciles the window, and the response carries rows, pagination, and
// the canonical query the state serializes back to. Fetch failures come back
// inside the payload as {error}, never as a transport error.
func (s *Service) ListSubmissions(ctx context.Context, values url.Values, sess Session) map[string]any {
	dec := filter.Decode(values)
	if !dec.PageOK {
		log.Printf("app: unparseable page %q, using 1", values.Get("page"))
	}
	if !dec.PageSizeOK && values.Get("pageSize") != "" {
		log.Printf("app: unparseable pageSize %q, using %d", values.Get("pageSize"), filter.DefaultPageSize)
	}

	onlyMine := values.Get("onlyMine") == "true"
	if sess.UserID <= 0 {
		onlyMine = false
	}
	includeThreadReplies := values.Get("includeThreadReplies") == "true"

	key := listingKey(values.Get("context"), sess.UserID, onlyMine, includeThreadReplies)
	ls := s.listingFor(key, values, sess.UserID, onlyMine, includeThreadReplies)
	ls.apply(dec)

	var view state.View
	if values.Get("mode") == "infinite" {
		ls.pager.SetMode(state.ModeInfinite)
		if values.Get("loadMore") == "true" {
			view = ls.pager.LoadMore(ctx)
		} else {
			view = ls.pager.Load(ctx)
		}
	} else {
		ls.pager.SetMode(state.ModePages)
		view = ls.pager.Load(ctx)
	}

	if view.Phase == state.PhaseError {
		return map[string]any{"error": view.Err}
	}

	rows := view.Rows
	if rows == nil {
		rows = []store.SubmissionWithReplies{}
	}
	data := map[string]any{
		"submissions": rows,
		"pagination":  view.Pagination,
		"query":       ls.mirror.Canonical(),
	}
	if view.Mode == state.ModeInfinite {
		data["hasMore"] = view.HasMore
	}
	return map[string]any{"data": data}
}

func (s *Service) GetSubmission(ctx context.Context, id int64) (store.Submission, error) {
	return s.store.GetSubmissionByID(ctx, id)
}

// CreateSubmissionInput carries the create/reply payload.
type CreateSubmissionInput struct {
	Title          string   `json:"submission_title"`
	Content        string   `json:"submission_name"`
	URL            string   `json:"submission_url"`
	Tags           []string `json:"tags"`
	ThreadParentID *int64   `json:"thread_parent_id"`
}

// CreateSubmission validates and stores a post or reply. Content hashtags are
// merged with explicitly supplied tags.
func (s *Service) CreateSubmission(ctx context.Context, sess Session, input CreateSubmissionInput) (ActionResult, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Content = strings.TrimSpace(input.Content)

	if input.Content == "" {
		return ActionResult{Status: -1, Error: "content is required"}, nil
	}
	if input.ThreadParentID == nil && input.Title == "" {
		return ActionResult{Status: -1, Error: "title is required"}, nil
	}
	if len(input.Title) > maxTitleLength {
		return ActionResult{Status: -1, Error: fmt.Sprintf("title must be at most %d characters", maxTitleLength)}, nil
	}
	if len(input.Content) > maxContentLength {
		return ActionResult{Status: -1, Error: fmt.Sprintf("content must be at most %d characters", maxContentLength)}, nil
	}

	timedOut, err := s.store.IsUserTimedOut(ctx, sess.UserID)
	if err != nil {
		return ActionResult{}, err
	}
	if timedOut {
		return ActionResult{Status: -1, Error: "your account is timed out"}, nil
	}

	if input.ThreadParentID != nil {
		parent, err := s.store.GetSubmissionByID(ctx, *input.ThreadParentID)
		if err != nil {
			return ActionResult{Status: -1, Error: "parent submission not found"}, nil
		}
		if parent.ThreadParentID != nil {
			// Replies nest one level only; reply to the thread root instead.
			input.ThreadParentID = parent.ThreadParentID
		}
	}

	tags := mergeTags(input.Tags, ExtractHashtags(input.Content))
	if len(tags) > maxTagsPerPost {
		return ActionResult{Status: -1, Error: fmt.Sprintf("at most %d tags per submission", maxTagsPerPost)}, nil
	}

	created, err := s.store.InsertSubmission(ctx, store.Submission{
		Name:           input.Content,
		Title:          input.Title,
		URL:            strings.TrimSpace(input.URL),
		UserID:         sess.UserID,
		Tags:           tags,
		ThreadParentID: input.ThreadParentID,
	})
	if err != nil {
		return ActionResult{}, err
	}

	if s.search != nil {
		s.search.IndexSubmission(search.SubmissionRecord{
			ID:             created.ID,
			Title:          created.Title,
			Content:        created.Name,
			Tags:           created.Tags,
			UserID:         created.UserID,
			Author:         created.Author,
			ThreadParentID: created.ThreadParentID,
		})
	}

	s.forEachListing(func(ls *listingSession) {
		ls.refresh.Trigger()
	})

	return ActionResult{Status: 1, Message: "submission created", Submission: &created}, nil
}

// EditSubmissionInput carries the edit payload.
type EditSubmissionInput struct {
	ID      int64    `json:"submission_id"`
	Title   string   `json:"submission_title"`
	Content string   `json:"submission_name"`
	Tags    []string `json:"tags"`
}

func (s *Service) EditSubmission(ctx context.Context, sess Session, input EditSubmissionInput) (ActionResult, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Content = strings.TrimSpace(input.Content)

	if input.ID <= 0 {
		return ActionResult{Status: -1, Error: "submission_id is required"}, nil
	}
	if input.Content == "" {
		return ActionResult{Status: -1, Error: "content is required"}, nil
	}
	if len(input.Title) > maxTitleLength {
		return ActionResult{Status: -1, Error: fmt.Sprintf("title must be at most %d characters", maxTitleLength)}, nil
	}
	if len(input.Content) > maxContentLength {
		return ActionResult{Status: -1, Error: fmt.Sprintf("content must be at most %d characters", maxContentLength)}, nil
	}

	timedOut, err := s.store.IsUserTimedOut(ctx, sess.UserID)
	if err != nil {
		return ActionResult{}, err
	}
	if timedOut {
		return ActionResult{Status: -1, Error: "your account is timed out"}, nil
	}

	tags := mergeTags(input.Tags, ExtractHashtags(input.Content))
	ok, err := s.store.UpdateSubmission(ctx, store.Submission{
		ID:    input.ID,
		Name:  input.Content,
		Title: input.Title,
		Tags:  tags,
	}, sess.UserID)
	if err != nil {
		return ActionResult{}, err
	}
	if !ok {
		return ActionResult{Status: -1, Error: "submission not found or not yours"}, nil
	}

	updated, err := s.store.GetSubmissionByID(ctx, input.ID)
	if err != nil {
		return ActionResult{}, err
	}

	if s.search != nil {
		s.search.IndexSubmission(search.SubmissionRecord{
			ID:             updated.ID,
			Title:          updated.Title,
			Content:        updated.Name,
			Tags:           updated.Tags,
			UserID:         updated.UserID,
			Author:         updated.Author,
			ThreadParentID: updated.ThreadParentID,
		})
	}

	s.forEachListing(func(ls *listingSession) {
		ls.pager.OptimisticUpdateSubmission(updated.ID, func(row *store.SubmissionWithReplies) {
			row.Title = updated.Title
			row.Name = updated.Name
			row.Tags = updated.Tags
		})
		ls.refresh.Trigger()
	})

	return ActionResult{Status: 1, Message: "submission updated", Submission: &updated}, nil
}

func (s *Service) DeleteSubmission(ctx context.Context, sess Session, id int64) (ActionResult, error) {
	if id <= 0 {
		return ActionResult{Status: -1, Error: "submission_id is required"}, nil
	}
	asModerator := s.Can(sess.Role, rbac.ActionModerate)
	ok, err := s.store.DeleteSubmission(ctx, id, sess.UserID, asModerator)
	if err != nil {
		return ActionResult{}, err
	}
	if !ok {
		return ActionResult{Status: -1, Error: "submission not found or not yours"}, nil
	}
	if s.search != nil {
		s.search.DeleteSubmission(id)
	}

	s.forEachListing(func(ls *listingSession) {
		ls.pager.OptimisticRemoveSubmission(id)
		ls.refresh.Trigger()
	})

	return ActionResult{Status: 1, Message: "submission deleted"}, nil
}

func (s *Service) Search(q string, filterType string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}
	}
	return s.search.Search(search.Query{
		Text:       q,
		FilterType: search.ResultType(filterType),
		Limit:      limit,
		Offset:     offset,
	})
}

// RecentTags returns tags seen on recent submissions, for typeahead.
func (s *Service) RecentTags(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.RecentTags(ctx, limit)
}

// SearchUsers is the author typeahead: each hit is returned as the
// "username|id" token the filter layer understands.
func (s *Service) SearchUsers(ctx context.Context, q string, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	users, err := s.store.SearchUsers(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":    u.ID,
			"name":  u.Name,
			"bio":   u.Bio,
			"token": fmt.Sprintf("%s|%d", u.Name, u.ID),
		})
	}
	return items, nil
}

// TimeoutUser issues a moderation timeout.
func (s *Service) TimeoutUser(ctx context.Context, sess Session, userID int64, reason string, duration time.Duration) error {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	if userID <= 0 {
		return domainError(422, "VALIDATION_ERROR", "userId is required", nil)
	}
	if userID == sess.UserID {
		return domainError(422, "VALIDATION_ERROR", "cannot timeout yourself", nil)
	}
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	target, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if rbac.Normalize(target.Role) == rbac.RoleAdmin {
		return domainError(403, "FORBIDDEN", "cannot timeout an admin", nil)
	}
	expiresAt := time.Now().Add(duration)
	if err := s.store.TimeoutUser(ctx, store.UserTimeout{
		UserID:    userID,
		IssuedBy:  sess.UserID,
		Reason:    strings.TrimSpace(reason),
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}
	if s.mail != nil && s.mail.IsConfigured() && target.Email != "" {
		go func() {
			if err := s.mail.SendTimeoutNotice(target.Email, target.Name, strings.TrimSpace(reason), expiresAt); err != nil {
				log.Printf("app: send timeout notice to user %d: %v", userID, err)
			}
		}()
	}
	return nil
}

// NotifyWelcome greets a new account by email when SMTP is configured.
func (s *Service) NotifyWelcome(user store.User) {
	if s.mail == nil || !s.mail.IsConfigured() || user.Email == "" {
		return
	}
	go func() {
		if err := s.mail.SendWelcomeEmail(user.Email, user.Name); err != nil {
			log.Printf("app: send welcome email to user %d: %v", user.ID, err)
		}
	}()
}

func (s *Service) ClearUserTimeout(ctx context.Context, sess Session, userID int64) error {
	if !s.Can(sess.Role, rbac.ActionModerate) {
		return domainError(403, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ClearUserTimeout(ctx, userID)
}

// UploadAvatar stores an avatar and records its object key on the user.
func (s *Service) UploadAvatar(ctx context.Context, sess Session, reader io.Reader, size int64, contentType string) (string, error) {
	if s.media == nil {
		return "", domainError(503, "MEDIA_UNAVAILABLE", "Avatar storage not configured", nil)
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return "", err
	}
	key, err := s.media.UploadAvatar(ctx, sess.UserID, reader, size, contentType)
	if err != nil {
		return "", domainError(422, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := s.store.SetUserAvatarKey(ctx, sess.UserID, key); err != nil {
		return "", err
	}
	if user.AvatarKey != "" {
		_ = s.media.RemoveAvatar(ctx, user.AvatarKey)
	}
	return s.media.AvatarURL(ctx, key)
}

// GetProfile returns a user's public profile, with a presigned avatar URL
// when one is set.
func (s *Service) GetProfile(ctx context.Context, userID int64) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := map[string]any{
		"id":   user.ID,
		"name": user.Name,
		"bio":  user.Bio,
	}
	if s.media != nil && user.AvatarKey != "" {
		if avatarURL, err := s.media.AvatarURL(ctx, user.AvatarKey); err == nil {
			profile["avatarUrl"] = avatarURL
		}
	}
	return profile, nil
}

var hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9_-]+)`)

// ExtractHashtags pulls bare tag names out of post content.
func ExtractHashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags
}

// mergeTags combines explicit and extracted tags, sanitized and deduplicated.
// Stored tags carry no '#' prefix.
func mergeTags(explicit, extracted []string) []string {
	seen := make(map[string]bool)
	merged := make([]string, 0, len(explicit)+len(extracted))
	for _, tag := range append(append([]string{}, explicit...), extracted...) {
		clean := strings.ToLower(filter.SanitizeTag(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		merged = append(merged, clean)
	}
	return merged
}
