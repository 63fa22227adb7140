// Package nasqlitestore implements nastore's `Backend` interface on a single
// SQLite table. It's the closest analogue to a browser's local storage in that
// items survive restarts, and several processes pointed at the same file share
// one namespace (last write wins).
package nasqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	// Pure Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/brandur/neoadmin/internal/nastore"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	data      BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
)`

type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteStore opens (creating if necessary) the database at path. Items are
// kept under namespace so that one file can hold several independent stores.
func NewSQLiteStore(ctx context.Context, path, namespace string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, xerrors.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("error opening database %q: %w", path, err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, xerrors.Errorf("error initializing database: %w", err)
		}
	}

	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close() //nolint:wrapcheck
}

func (s *SQLiteStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM items WHERE namespace = ? AND key = ?", s.namespace, key).
		Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nastore.ErrKeyNotFound
		}

		return nil, xerrors.Errorf("error selecting item: %w", err)
	}

	return data, nil
}

func (s *SQLiteStore) SetItem(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (namespace, key, data) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET data = excluded.data`,
		s.namespace, key, data)
	if err != nil {
		return xerrors.Errorf("error upserting item: %w", err)
	}

	return nil
}

func (s *SQLiteStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE namespace = ? AND key = ?", s.namespace, key)
	if err != nil {
		return xerrors.Errorf("error deleting item: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM items WHERE namespace = ? ORDER BY key", s.namespace)
	if err != nil {
		return nil, xerrors.Errorf("error selecting keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, xerrors.Errorf("error scanning key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE namespace = ?", s.namespace); err != nil {
		return xerrors.Errorf("error clearing items: %w", err)
	}

	return nil
}
