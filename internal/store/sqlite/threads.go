// Package sqlite persists thread mappings in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS thread_mappings (
	platform        TEXT NOT NULL,
	external_id     TEXT NOT NULL,
	thread_id       TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	last_message_at INTEGER NOT NULL,
	PRIMARY KEY (platform, external_id)
)`

// ThreadStore implements store.ThreadStore on SQLite.
type ThreadStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*ThreadStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite thread store: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlite thread store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite thread store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite thread store: WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite thread store: schema: %w", err)
	}
	return &ThreadStore{db: db}, nil
}

func (s *ThreadStore) LoadAll(ctx context.Context) ([]store.ThreadMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, external_id, thread_id, created_at, last_message_at
		 FROM thread_mappings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load thread mappings: %w", err)
	}
	defer rows.Close()

	var out []store.ThreadMapping
	for rows.Next() {
		var (
			m                 store.ThreadMapping
			platform          string
			created, lastSeen int64
		)
		if err := rows.Scan(&platform, &m.ExternalID, &m.ThreadID, &created, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan thread mapping: %w", err)
		}
		m.Platform = bus.ParsePlatform(platform)
		m.CreatedAt = time.UnixMilli(created)
		m.LastMessageAt = time.UnixMilli(lastSeen)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ThreadStore) Save(ctx context.Context, m store.ThreadMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_mappings (platform, external_id, thread_id, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (platform, external_id) DO UPDATE SET
		   thread_id = excluded.thread_id,
		   created_at = excluded.created_at,
		   last_message_at = excluded.last_message_at`,
		string(m.Platform), m.ExternalID, m.ThreadID, m.CreatedAt.UnixMilli(), m.LastMessageAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save thread mapping: %w", err)
	}
	return nil
}

func (s *ThreadStore) Delete(ctx context.Context, platform bus.Platform, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_mappings WHERE platform = ? AND external_id = ?`,
		string(platform), externalID)
	if err != nil {
		return fmt.Errorf("delete thread mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ThreadStore) Close() error { return s.db.Close() }
