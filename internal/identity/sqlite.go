package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE CHECK(length(username) > 0),
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
);`

// SQLiteStore keeps users in a sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	hasher *Hasher
	policy Policy
	// dummyHash is compared against when the user does not exist so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string, hasher *Hasher, policy Policy) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("identity: open DB: %w", err)
	}
	// one writer keeps sqlite from reporting "database is locked"
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: migrate: %w", err)
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: prepare hasher: %w", err)
	}
	return &SQLiteStore{db: db, hasher: hasher, policy: policy, dummyHash: dummy}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, password string) error {
	if err := s.policy.Validate(username, password); err != nil {
		return err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", username).Scan(&exists)
	switch {
	case err == nil:
		return duplicate(username)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("identity: lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		uuid.NewString(), username, hash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return duplicate(username)
		}
		return fmt.Errorf("identity: insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) VerifyPassword(ctx context.Context, username, password string) error {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		_ = s.hasher.Compare(s.dummyHash, password)
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("identity: lookup user: %w", err)
	}
	return s.hasher.Compare(hash, password)
}

func duplicate(username string) error {
	return fmt.Errorf("%w: %w", &ValidationError{
		Reasons: []string{fmt.Sprintf("Username '%s' is already taken.", username)},
	}, ErrUserExists)
}
