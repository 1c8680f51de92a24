package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		avatar TEXT,
		plan TEXT NOT NULL,
		badges_json TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		max_messages INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `user_id, email, display_name, avatar, plan, badges_json,
	       message_count, max_messages, created_at, updated_at`

// GetUser retrieves an account by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
	return scanUser(row)
}

// GetUserByEmail retrieves an account by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*identity.Identity, error) {
	var user identity.Identity
	var avatar sql.NullString
	var badgesJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&user.ID, &user.Email, &user.DisplayName, &avatar, &user.Plan, &badgesJSON,
		&user.MessageCount, &user.MaxMessages, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Avatar = avatar.String
	user.Badges = []string{}
	if err := json.Unmarshal([]byte(badgesJSON), &user.Badges); err != nil {
		return nil, fmt.Errorf("decode badges for %s: %w", user.ID, err)
	}
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &user, nil
}

// UpsertUser creates or updates an account record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *identity.Identity) error {
	query := `
	INSERT INTO users (user_id, email, display_name, avatar, plan, badges_json,
	                   message_count, max_messages, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		avatar = excluded.avatar,
		plan = excluded.plan,
		badges_json = excluded.badges_json,
		message_count = MAX(users.message_count, excluded.message_count),
		max_messages = excluded.max_messages,
		updated_at = excluded.updated_at`

	badges := user.Badges
	if badges == nil {
		badges = []string{}
	}
	badgesJSON, err := json.Marshal(badges)
	if err != nil {
		return fmt.Errorf("encode badges: %w", err)
	}

	var avatar interface{}
	if user.Avatar != "" {
		avatar = user.Avatar
	}

	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.DisplayName, avatar, user.Plan, string(badgesJSON),
		user.MessageCount, user.MaxMessages,
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// IncrementMessageCount bumps the stored counter by one.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, userID string) (int, error) {
	query := `
	UPDATE users SET message_count = message_count + 1, updated_at = ?
	WHERE user_id = ?
	RETURNING message_count`

	var count int
	err := s.db.QueryRowContext(ctx, query, time.Now().Unix(), userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("[store] IncrementMessageCount matched no user id=%s", userID)
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment message_count: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
