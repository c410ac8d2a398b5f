package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// ThreadStore implements store.ThreadStore backed by Postgres.
type ThreadStore struct {
	db *sql.DB
}

func NewThreadStore(db *sql.DB) *ThreadStore {
	return &ThreadStore{db: db}
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
		var m store.ThreadMapping
		var platform string
		if err := rows.Scan(&platform, &m.ExternalID, &m.ThreadID, &m.CreatedAt, &m.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan thread mapping: %w", err)
		}
		m.Platform = bus.ParsePlatform(platform)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ThreadStore) Save(ctx context.Context, m store.ThreadMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_mappings (platform, external_id, thread_id, created_at, last_message_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (platform, external_id) DO UPDATE SET
		   thread_id = EXCLUDED.thread_id,
		   created_at = EXCLUDED.created_at,
		   last_message_at = EXCLUDED.last_message_at`,
		string(m.Platform), m.ExternalID, m.ThreadID, m.CreatedAt, m.LastMessageAt)
	if err != nil {
		return fmt.Errorf("save thread mapping: %w", err)
	}
	return nil
}

func (s *ThreadStore) Delete(ctx context.Context, platform bus.Platform, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_mappings WHERE platform = $1 AND external_id = $2`,
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
