package kvstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/reportcard/pkg/errors"
)

// SQLite stores values in a kv table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps db and ensures the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureKVSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "create kv schema", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.New(errors.CodeInternal, "read kv", err).WithContext("key", key)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return errors.New(errors.CodeInternal, "write kv", err).WithContext("key", key)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.New(errors.CodeInternal, "delete kv", err).WithContext("key", key)
	}
	return nil
}

func ensureKVSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP
		);
	`)
	return err
}
