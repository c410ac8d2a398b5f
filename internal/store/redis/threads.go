// Package redis persists thread mappings in a Redis hash so several gateway
// instances can share them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// DefaultKey is the hash holding every mapping.
const DefaultKey = "clawgate:threads"

// ThreadStore implements store.ThreadStore on a Redis hash keyed by
// "platform|external_id".
type ThreadStore struct {
	client *goredis.Client
	key    string
}

// Open connects using a redis:// URL or a bare host:port address.
func Open(ctx context.Context, dsn string) (*ThreadStore, error) {
	var opts *goredis.Options
	if strings.Contains(dsn, "://") {
		parsed, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("redis thread store: parse dsn: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: dsn}
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis thread store: ping: %w", err)
	}
	return New(client, DefaultKey), nil
}

// New wraps an existing client.
func New(client *goredis.Client, key string) *ThreadStore {
	if key == "" {
		key = DefaultKey
	}
	return &ThreadStore{client: client, key: key}
}

func (s *ThreadStore) LoadAll(ctx context.Context) ([]store.ThreadMapping, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load thread mappings: %w", err)
	}
	out := make([]store.ThreadMapping, 0, len(all))
	for field, raw := range all {
		var m store.ThreadMapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode thread mapping %q: %w", field, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *ThreadStore) Save(ctx context.Context, m store.ThreadMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode thread mapping: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, m.Key(), data).Err(); err != nil {
		return fmt.Errorf("save thread mapping: %w", err)
	}
	return nil
}

func (s *ThreadStore) Delete(ctx context.Context, platform bus.Platform, externalID string) error {
	n, err := s.client.HDel(ctx, s.key, store.MappingKey(platform, externalID)).Result()
	if err != nil {
		return fmt.Errorf("delete thread mapping: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ThreadStore) Close() error { return s.client.Close() }
