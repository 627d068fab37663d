package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSubmission ResultType = "submission"
	ResultUser       ResultType = "user"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Author  string     `json:"author,omitempty"`
	UserID  int64      `json:"userId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexSubmission(s SubmissionRecord) error
	IndexUser(u UserRecord) error
	DeleteSubmission(id int64) error
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	UserID         int64    `json:"userId"`
	Author         string   `json:"author"`
	ThreadParentID *int64   `json:"threadParentId"`
}

// UserRecord is the data we index for a user profile.
type UserRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Bio  string `json:"bio"`
}
