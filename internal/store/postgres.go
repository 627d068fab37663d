package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(bio, ''), COALESCE(password_hash, ''), role,
		       is_email_verified, COALESCE(avatar_key, ''), timeout_until, COALESCE(timeout_reason, '')
		FROM users
		WHERE id=$1
	`, userID).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Bio,
		&user.PasswordHash,
		&user.Role,
		&user.IsEmailVerified,
		&user.AvatarKey,
		&user.TimeoutUntil,
		&user.TimeoutReason,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, COALESCE(bio, ''), COALESCE(password_hash, ''), role,
		       is_email_verified, COALESCE(avatar_key, ''), timeout_until, COALESCE(timeout_reason, '')
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Bio,
		&user.PasswordHash,
		&user.Role,
		&user.IsEmailVerified,
		&user.AvatarKey,
		&user.TimeoutUntil,
		&user.TimeoutReason,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (int64, error) {
	role := user.Role
	if role == "" {
		role = "user"
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, bio, password_hash, role, is_email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, user.Name, user.Email, user.Bio, user.PasswordHash, role, user.IsEmailVerified).Scan(&id)
	if err != nil {
		if strings.Contains(err.Error(), "users_email_key") {
			return 0, fmt.Errorf("email already registered")
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// SearchUsers matches names by case-insensitive substring, for the author and
// mentions typeahead.
func (s *PostgresStore) SearchUsers(ctx context.Context, q string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(bio, '')
		FROM users
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name ASC
		LIMIT $2
	`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Name, &item.Bio); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserAvatarKey(ctx context.Context, userID int64, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET avatar_key=$2, updated_at=NOW() WHERE id=$1
	`, userID, key)
	if err != nil {
		return fmt.Errorf("set avatar key: %w", err)
	}
	return nil
}

// TimeoutUser records a moderation timeout and mirrors the expiry onto the
// user row so write paths can check it in one lookup.
func (s *PostgresStore) TimeoutUser(ctx context.Context, timeout UserTimeout) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timeout tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_timeouts (user_id, issued_by, reason, expires_at)
		VALUES ($1, $2, $3, $4)
	`, timeout.UserID, timeout.IssuedBy, timeout.Reason, timeout.ExpiresAt); err != nil {
		return fmt.Errorf("insert timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET timeout_until=$2, timeout_reason=$3, updated_at=NOW()
		WHERE id=$1
	`, timeout.UserID, timeout.ExpiresAt, timeout.Reason); err != nil {
		return fmt.Errorf("mark user timeout: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ClearUserTimeout(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET timeout_until=NULL, timeout_reason=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID)
	if err != nil {
		return fmt.Errorf("clear user timeout: %w", err)
	}
	return nil
}

// IsUserTimedOut reports whether a moderation timeout is currently active.
func (s *PostgresStore) IsUserTimedOut(ctx context.Context, userID int64) (bool, error) {
	var timedOut bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id=$1 AND timeout_until IS NOT NULL AND timeout_until > NOW())
	`, userID).Scan(&timedOut)
	if err != nil {
		return false, fmt.Errorf("check user timeout: %w", err)
	}
	return timedOut, nil
}

// RecentTags returns the most recently used tags across top-level posts, for
// the tag suggestion strip.
func (s *PostgresStore) RecentTags(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (tag) tag
		FROM (
			SELECT UNNEST(tags) AS tag, submission_datetime
			FROM submissions
			ORDER BY submission_datetime DESC
			LIMIT 500
		) recent
		ORDER BY tag, submission_datetime DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// ErrNotFound reports whether err is the driver's no-rows sentinel.
func ErrNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
