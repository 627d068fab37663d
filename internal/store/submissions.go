package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"quorum/api/internal/query"
)

// CountSubmissions runs the COUNT side of a compiled filter query. It shares
// the exact WHERE clause and parameter list with ListSubmissions.
func (s *PostgresStore) CountSubmissions(ctx context.Context, compiled query.Compiled) (int, error) {
	countQuery := `
		SELECT COUNT(*) AS total
		FROM submissions s
		JOIN users u ON s.user_id = u.id
		` + compiled.Where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, compiled.Params...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return total, nil
}

// ListSubmissions runs the windowed data query for one page. For top-level
// fetches each post's direct replies are aggregated into a JSON column in the
// same round trip; in onlyReplies mode the flat shape is used instead.
func (s *PostgresStore) ListSubmissions(ctx context.Context, compiled query.Compiled, onlyReplies bool, page, pageSize int) ([]SubmissionWithReplies, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	limitPlaceholder := compiled.NextPlaceholder()
	params := append(append([]any{}, compiled.Params...), pageSize, offset)

	var mainQuery string
	if onlyReplies {
		mainQuery = `
			SELECT
				s.submission_id,
				s.submission_name,
				s.submission_title,
				COALESCE(s.submission_url, ''),
				s.submission_datetime,
				s.user_id,
				array_to_json(s.tags)::text,
				s.thread_parent_id,
				u.name AS author,
				COALESCE(u.bio, '') AS author_bio,
				0 AS reply_count,
				NULL AS replies
			FROM submissions s
			JOIN users u ON s.user_id = u.id
			` + compiled.Where + `
			ORDER BY s.submission_datetime DESC
			LIMIT $` + strconv.Itoa(limitPlaceholder) + ` OFFSET $` + strconv.Itoa(limitPlaceholder+1)
	} else {
		mainQuery = `
			SELECT
				s.submission_id,
				s.submission_name,
				s.submission_title,
				COALESCE(s.submission_url, ''),
				s.submission_datetime,
				s.user_id,
				array_to_json(s.tags)::text,
				s.thread_parent_id,
				u.name AS author,
				COALESCE(u.bio, '') AS author_bio,
				(
					SELECT COUNT(*)::int
					FROM submissions replies
					WHERE replies.thread_parent_id = s.submission_id
				) AS reply_count,
				(
					SELECT json_agg(
						json_build_object(
							'submission_id', r.submission_id,
							'submission_name', r.submission_name,
							'submission_title', r.submission_title,
							'submission_datetime', r.submission_datetime,
							'user_id', r.user_id,
							'author', ru.name,
							'author_bio', ru.bio,
							'tags', r.tags,
							'thread_parent_id', r.thread_parent_id
						)
						ORDER BY r.submission_datetime ASC
					)
					FROM submissions r
					JOIN users ru ON r.user_id = ru.id
					WHERE r.thread_parent_id = s.submission_id
				) AS replies
			FROM submissions s
			JOIN users u ON s.user_id = u.id
			` + compiled.Where + `
			ORDER BY s.submission_datetime DESC
			LIMIT $` + strconv.Itoa(limitPlaceholder) + ` OFFSET $` + strconv.Itoa(limitPlaceholder+1)
	}

	rows, err := s.db.QueryContext(ctx, mainQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]SubmissionWithReplies, 0, pageSize)
	for rows.Next() {
		var (
			item       SubmissionWithReplies
			urlValue   string
			datetime   sql.NullTime
			tagsJSON   sql.NullString
			repliesRaw sql.NullString
		)
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Title,
			&urlValue,
			&datetime,
			&item.UserID,
			&tagsJSON,
			&item.ThreadParentID,
			&item.Author,
			&item.AuthorBio,
			&item.ReplyCount,
			&repliesRaw,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		item.URL = urlValue
		if datetime.Valid {
			t := datetime.Time
			item.Datetime = &t
		} else {
			log.Printf("store: submission %d has missing submission_datetime", item.ID)
		}
		item.Tags = decodeTags(item.ID, tagsJSON)
		if repliesRaw.Valid && repliesRaw.String != "" {
			item.Replies = decodeReplies(item.ID, []byte(repliesRaw.String))
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

// replyRow mirrors the json_build_object shape; the timestamp stays raw so a
// single bad value degrades to nil instead of failing the whole array.
type replyRow struct {
	SubmissionID   int64            `json:"submission_id"`
	SubmissionName string           `json:"submission_name"`
	Title          string           `json:"submission_title"`
	Datetime       *json.RawMessage `json:"submission_datetime"`
	UserID         int64            `json:"user_id"`
	Author         string           `json:"author"`
	AuthorBio      *string          `json:"author_bio"`
	Tags           []string         `json:"tags"`
	ThreadParentID *int64           `json:"thread_parent_id"`
}

func decodeReplies(parentID int64, raw []byte) []SubmissionWithReplies {
	var rows []replyRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		log.Printf("store: parse replies for submission %d: %v", parentID, err)
		return nil
	}
	replies := make([]SubmissionWithReplies, 0, len(rows))
	for _, row := range rows {
		reply := SubmissionWithReplies{
			Submission: Submission{
				ID:             row.SubmissionID,
				Name:           row.SubmissionName,
				Title:          row.Title,
				UserID:         row.UserID,
				Author:         row.Author,
				Tags:           row.Tags,
				ThreadParentID: row.ThreadParentID,
			},
		}
		if row.AuthorBio != nil {
			reply.AuthorBio = *row.AuthorBio
		}
		if reply.Tags == nil {
			reply.Tags = []string{}
		}
		reply.Datetime = parseReplyDatetime(parentID, row.SubmissionID, row.Datetime)
		replies = append(replies, reply)
	}
	return replies
}

func parseReplyDatetime(parentID, replyID int64, raw *json.RawMessage) *time.Time {
	if raw == nil {
		log.Printf("store: reply %d of submission %d has missing submission_datetime", replyID, parentID)
		return nil
	}
	var value string
	if err := json.Unmarshal(*raw, &value); err != nil || value == "" || value == "0" {
		log.Printf("store: reply %d of submission %d has unparseable submission_datetime %s", replyID, parentID, string(*raw))
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	log.Printf("store: reply %d of submission %d has unparseable submission_datetime %q", replyID, parentID, value)
	return nil
}

func decodeTags(submissionID int64, raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		log.Printf("store: parse tags for submission %d: %v", submissionID, err)
		return []string{}
	}
	return tags
}

func (s *PostgresStore) GetSubmissionByID(ctx context.Context, submissionID int64) (Submission, error) {
	var (
		item     Submission
		datetime sql.NullTime
		tagsJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.submission_id, s.submission_name, s.submission_title, COALESCE(s.submission_url, ''),
		       s.submission_datetime, s.user_id, array_to_json(s.tags)::text, s.thread_parent_id,
		       u.name, COALESCE(u.bio, '')
		FROM submissions s
		JOIN users u ON s.user_id = u.id
		WHERE s.submission_id=$1
	`, submissionID).Scan(
		&item.ID,
		&item.Name,
		&item.Title,
		&item.URL,
		&datetime,
		&item.UserID,
		&tagsJSON,
		&item.ThreadParentID,
		&item.Author,
		&item.AuthorBio,
	)
	if err != nil {
		return Submission{}, err
	}
	if datetime.Valid {
		t := datetime.Time
		item.Datetime = &t
	}
	item.Tags = decodeTags(item.ID, tagsJSON)
	return item, nil
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission) (Submission, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (submission_name, submission_title, submission_url, submission_datetime, user_id, tags, thread_parent_id)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), $4, $5::text[], $6)
		RETURNING submission_id
	`, item.Name, item.Title, item.URL, item.UserID, tags, item.ThreadParentID).Scan(&id)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return s.GetSubmissionByID(ctx, id)
}

// UpdateSubmission rewrites content, title, and tags for a submission owned
// by userID. Returns false when no row matched.
func (s *PostgresStore) UpdateSubmission(ctx context.Context, item Submission, userID int64) (bool, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET submission_name=$3, submission_title=$4, tags=$5::text[]
		WHERE submission_id=$1 AND user_id=$2
	`, item.ID, userID, item.Name, item.Title, tags)
	if err != nil {
		return false, fmt.Errorf("update submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update submission rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteSubmission removes a submission and its direct replies. Ownership is
// enforced unless asModerator is set.
func (s *PostgresStore) DeleteSubmission(ctx context.Context, submissionID, userID int64, asModerator bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM submissions WHERE thread_parent_id=$1
	`, submissionID); err != nil {
		return false, fmt.Errorf("delete replies: %w", err)
	}

	var result sql.Result
	if asModerator {
		result, err = tx.ExecContext(ctx, `DELETE FROM submissions WHERE submission_id=$1`, submissionID)
	} else {
		result, err = tx.ExecContext(ctx, `DELETE FROM submissions WHERE submission_id=$1 AND user_id=$2`, submissionID, userID)
	}
	if err != nil {
		return false, fmt.Errorf("delete submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete submission rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	return true, tx.Commit()
}
