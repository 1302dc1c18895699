// Package users records the identities that logged in, with their display names.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/bip47-showcase/auth47/core"
)

// ErrUserNotFound is returned by Lookup for an identity that never logged in.
var ErrUserNotFound = errors.New("user not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    public_key    TEXT NOT NULL UNIQUE,
    username      TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    last_login_at INTEGER NOT NULL
);
`

const upsert = `
INSERT INTO users (public_key, username, created_at, last_login_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(public_key) DO UPDATE SET
    username = excluded.username,
    last_login_at = excluded.last_login_at
`

// SQLiteDirectory is a SQLite implementation of ports.UserDirectory
type SQLiteDirectory struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteDirectory opens (creating if needed) the database at path
func OpenSQLiteDirectory(path string, logger *zap.Logger) (*SQLiteDirectory, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if logger != nil {
		logger.Info("user directory initialized", zap.String("path", path))
	}
	return &SQLiteDirectory{db: db, now: time.Now}, nil
}

// Remember inserts the identity or refreshes its name and last login time
func (d *SQLiteDirectory) Remember(ctx context.Context, identity, username string) error {
	now := d.now().Unix()
	if _, err := d.db.ExecContext(ctx, upsert, identity, username, now, now); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// Lookup returns the stored record for identity
func (d *SQLiteDirectory) Lookup(ctx context.Context, identity string) (*core.User, error) {
	var (
		user      core.User
		createdAt int64
		lastLogin int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT public_key, username, created_at, last_login_at FROM users WHERE public_key = ?`,
		identity,
	).Scan(&user.PublicKey, &user.Username, &createdAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.LastLoginAt = time.Unix(lastLogin, 0)
	return &user, nil
}

// Count returns the number of known users
func (d *SQLiteDirectory) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Close closes the database
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}
