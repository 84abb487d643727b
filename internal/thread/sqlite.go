package thread

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS continuations (
	account    TEXT NOT NULL,
	hashtag    TEXT NOT NULL,
	root_uri   TEXT NOT NULL,
	root_cid   TEXT NOT NULL,
	parent_uri TEXT NOT NULL,
	parent_cid TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account, hashtag)
)`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the continuation database at path.
// The caller should Close the store when done.
func OpenStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves the continuation for a scope, or nil if none exists.
func (s *SQLiteStore) Get(ctx context.Context, account, hashtag string) (*Continuation, error) {
	var c Continuation
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT root_uri, root_cid, parent_uri, parent_cid, updated_at
		FROM continuations
		WHERE account = ? AND hashtag = ?`,
		account, hashtag,
	).Scan(&c.Root.URI, &c.Root.CID, &c.Parent.URI, &c.Parent.CID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query continuation: %w", err)
	}
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &c, nil
}

// Put upserts the continuation for a scope.
func (s *SQLiteStore) Put(ctx context.Context, account, hashtag string, c Continuation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO continuations (account, hashtag, root_uri, root_cid, parent_uri, parent_cid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, hashtag) DO UPDATE SET
			parent_uri = excluded.parent_uri,
			parent_cid = excluded.parent_cid,
			updated_at = excluded.updated_at`,
		account, hashtag,
		c.Root.URI, c.Root.CID,
		c.Parent.URI, c.Parent.CID,
		c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert continuation: %w", err)
	}
	return nil
}

// Delete removes the continuation for a scope.
func (s *SQLiteStore) Delete(ctx context.Context, account, hashtag string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM continuations WHERE account = ? AND hashtag = ?`,
		account, hashtag,
	)
	if err != nil {
		return fmt.Errorf("delete continuation: %w", err)
	}
	return nil
}
