package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across submissions and users using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultSubmission {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'submission'::text AS type, s.submission_id AS id, s.submission_title AS title,
				ts_headline('english', coalesce(s.submission_name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				u.name AS author, s.user_id,
				ts_rank(s.fts, %s) AS rank
			FROM submissions s
			JOIN users u ON u.id = s.user_id
			WHERE s.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultUser {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'user'::text AS type, u.id, u.name AS title,
				ts_headline('english', coalesce(u.bio, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				u.name AS author, u.id AS user_id,
				ts_rank(to_tsvector('english', u.name || ' ' || coalesce(u.bio, '')), %s) AS rank
			FROM users u
			WHERE to_tsvector('english', u.name || ' ' || coalesce(u.bio, '')) @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, author, user_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Author, &r.UserID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		if r.Type == ResultUser {
			r.Author = ""
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SubmissionRecord, []UserRecord, error) {
	subRows, err := p.db.QueryContext(ctx, `
		SELECT s.submission_id, s.submission_title, s.submission_name,
		       coalesce(array_to_json(s.tags)::text, '[]'), s.user_id, u.name, s.thread_parent_id
		FROM submissions s
		JOIN users u ON u.id = s.user_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load submissions: %w", err)
	}
	defer subRows.Close()

	submissions := make([]SubmissionRecord, 0)
	for subRows.Next() {
		var (
			s        SubmissionRecord
			tagsJSON string
		)
		if err := subRows.Scan(&s.ID, &s.Title, &s.Content, &tagsJSON, &s.UserID, &s.Author, &s.ThreadParentID); err != nil {
			return nil, nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Tags = parseTagsJSON(tagsJSON)
		submissions = append(submissions, s)
	}
	if err := subRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate submissions: %w", err)
	}

	userRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(bio, '')
		FROM users
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	defer userRows.Close()

	users := make([]UserRecord, 0)
	for userRows.Next() {
		var u UserRecord
		if err := userRows.Scan(&u.ID, &u.Name, &u.Bio); err != nil {
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := userRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate users: %w", err)
	}

	return submissions, users, nil
}

func parseTagsJSON(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
