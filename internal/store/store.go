// Package store implements the persistent snapshot store. A snapshot is a
// single SQLite file holding every fetched entity plus the crawl progress
// table used to resume interrupted runs. All writes are idempotent
// replace-upserts keyed by the entity's natural key.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned by read operations when the requested key is not
// in the snapshot. It is a lookup result, not a failure of the store.
var ErrNotFound = errors.New("not found in snapshot")

// StorageError wraps a failure of the underlying medium (disk full,
// permission denied, corrupt file). It is fatal to the affected operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// timeFormat is the canonical timestamp encoding inside the snapshot file.
const timeFormat = "2006-01-02 15:04:05"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// decodeTime rejects timestamps the store did not write itself; a value
// that does not parse means the file is corrupt, not merely stale.
func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

// Store is a snapshot database handle. It serializes writes through a
// single connection, which is all SQLite supports anyway.
type Store struct {
	db   *sql.DB
	path string
}

// Options configures Open behavior.
type Options struct {
	// ReadOnly opens an existing snapshot without allowing writes. Opening
	// a missing path read-only is an error instead of creating an empty file.
	ReadOnly bool
}

// Open opens the snapshot file at path, creating an empty snapshot if the
// path does not exist (unless ReadOnly is set).
func Open(path string, opts Options) (*Store, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, storageErr("open", err)
		}
	} else if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, storageErr("open", err)
		}
	}

	// Read-only needs the file: URI form; the driver only honors mode=
	// on URI DSNs and would otherwise open the file writable.
	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// SQLite supports a single writer; a second connection only buys
	// lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if !opts.ReadOnly {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, storageErr("open", err)
		}
		if err := s.createTables(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		url        TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		author     TEXT NOT NULL,
		created    TEXT NOT NULL,
		rating     INTEGER,
		source     TEXT NOT NULL,
		html       TEXT NOT NULL,
		thread_id  INTEGER,
		fetched_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pages_author ON pages(author);
	CREATE INDEX IF NOT EXISTS idx_pages_created ON pages(created);

	CREATE TABLE IF NOT EXISTS page_tags (
		page_url TEXT NOT NULL,
		tag      TEXT NOT NULL,
		PRIMARY KEY (page_url, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_page_tags_tag ON page_tags(tag);

	CREATE TABLE IF NOT EXISTS revisions (
		page_url TEXT NOT NULL,
		id       INTEGER NOT NULL,
		number   INTEGER NOT NULL,
		author   TEXT NOT NULL,
		time     TEXT NOT NULL,
		comment  TEXT NOT NULL,
		PRIMARY KEY (page_url, number)
	);

	CREATE TABLE IF NOT EXISTS votes (
		page_url TEXT NOT NULL,
		user     TEXT NOT NULL,
		value    INTEGER NOT NULL,
		PRIMARY KEY (page_url, user)
	);

	CREATE TABLE IF NOT EXISTS comments (
		page_url  TEXT NOT NULL,
		id        INTEGER NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		title     TEXT NOT NULL,
		author    TEXT NOT NULL,
		time      TEXT NOT NULL,
		content   TEXT NOT NULL,
		PRIMARY KEY (page_url, id)
	);

	CREATE TABLE IF NOT EXISTS forum_threads (
		id          INTEGER PRIMARY KEY,
		category_id INTEGER NOT NULL DEFAULT 0,
		title       TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS forum_posts (
		thread_id INTEGER NOT NULL,
		id        INTEGER NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		title     TEXT NOT NULL,
		author    TEXT NOT NULL,
		time      TEXT NOT NULL,
		content   TEXT NOT NULL,
		PRIMARY KEY (thread_id, id)
	);

	CREATE TABLE IF NOT EXISTS crawl_progress (
		url           TEXT PRIMARY KEY,
		meta_done     INTEGER NOT NULL DEFAULT 0,
		history_done  INTEGER NOT NULL DEFAULT 0,
		votes_done    INTEGER NOT NULL DEFAULT 0,
		comments_done INTEGER NOT NULL DEFAULT 0,
		failed_reason TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return storageErr("create tables", err)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}
