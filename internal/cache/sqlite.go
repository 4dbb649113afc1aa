package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the on-disk cache backend: one sqlite database file
// per namespace, WAL mode, busy-timeout pragma — the same connection
// recipe the engine's durable stores use (see DESIGN.md: grounded on
// the teacher's database connection-string builder).
type SQLiteBackend struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLiteBackend opens (creating if absent) the directory that will
// hold one *.db file per namespace.
func NewSQLiteBackend(dir string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create sqlite dir: %w", err)
	}
	return &SQLiteBackend{dir: dir, dbs: make(map[string]*sql.DB)}, nil
}

func (s *SQLiteBackend) dbFor(namespace string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[namespace]; ok {
		return db, nil
	}

	path := filepath.Join(s.dir, namespace+".db")
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite namespace %s: %w", namespace, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: one writer connection per namespace file avoids SQLITE_BUSY storms
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema for %s: %w", namespace, err)
	}

	s.dbs[namespace] = db
	return db, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	db, err := s.dbFor(namespace)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	var expiresAt sql.NullInt64
	err = db.QueryRowContext(ctx, `SELECT value, expires_at FROM entries WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s/%s: %w", namespace, key, err)
	}
	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		_, _ = db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	db, err := s.dbFor(namespace)
	if err != nil {
		return err
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("cache: set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, namespace, key string) error {
	db, err := s.dbFor(namespace)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *SQLiteBackend) Exists(ctx context.Context, namespace, key string) (bool, error) {
	_, found, err := s.Get(ctx, namespace, key)
	return found, err
}

func (s *SQLiteBackend) GetMany(ctx context.Context, namespace string, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, found, err := s.Get(ctx, namespace, k); err != nil {
			return nil, err
		} else if found {
			result[k] = v
		}
	}
	return result, nil
}

func (s *SQLiteBackend) SetMany(ctx context.Context, namespace string, items map[string][]byte, ttl time.Duration) error {
	db, err := s.dbFor(namespace)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx for %s: %w", namespace, err)
	}
	defer tx.Rollback()

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare set_many for %s: %w", namespace, err)
	}
	defer stmt.Close()

	for k, v := range items {
		if _, err := stmt.ExecContext(ctx, k, v, expiresAt); err != nil {
			return fmt.Errorf("cache: set_many %s/%s: %w", namespace, k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Clear(ctx context.Context, namespace string) error {
	db, err := s.dbFor(namespace)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM entries`)
	return err
}

func (s *SQLiteBackend) Size(ctx context.Context, namespace string) (int, error) {
	db, err := s.dbFor(namespace)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for ns, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cache: close %s: %w", ns, err)
		}
	}
	return firstErr
}
