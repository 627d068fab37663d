package store

import "time"

type User struct {
	ID              int64
	Name            string
	Email           string
	Bio             string
	PasswordHash    string
	Role            string
	IsEmailVerified bool
	AvatarKey       string
	TimeoutUntil    *time.Time
	TimeoutReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Submission is a post or a reply; replies carry a non-nil ThreadParentID.
type Submission struct {
	ID             int64      `json:"submission_id"`
	Name           string     `json:"submission_name"`
	Title          string     `json:"submission_title"`
	URL            string     `json:"submission_url,omitempty"`
	Datetime       *time.Time `json:"submission_datetime"`
	UserID         int64      `json:"user_id"`
	Author         string     `json:"author"`
	AuthorBio      string     `json:"author_bio,omitempty"`
	Tags           []string   `json:"tags"`
	ThreadParentID *int64     `json:"thread_parent_id"`
}

// SubmissionWithReplies is a submission with its direct replies inlined one
// level deep. Built fresh per query response; Datetime stays nil when the
// row's timestamp is missing or unparseable (logged, never fatal).
type SubmissionWithReplies struct {
	Submission
	ReplyCount int                     `json:"reply_count"`
	Replies    []SubmissionWithReplies `json:"replies,omitempty"`
}

// Pagination describes one fetched window. Clamping CurrentPage against the
// total is the reconciler's job, not the store's.
type Pagination struct {
	CurrentPage  int `json:"currentPage"`
	PageSize     int `json:"pageSize"`
	TotalRecords int `json:"totalRecords"`
}

type UserTimeout struct {
	UserID    int64
	IssuedBy  int64
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
