// Package store defines persistence for thread mappings. Implementations
// live in subpackages (sqlite, pg, redis); a nil ThreadStore means mappings
// are kept in memory only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// ErrNotFound is returned when a mapping does not exist.
var ErrNotFound = errors.New("thread mapping not found")

// ThreadMapping associates an external (platform, channel) with an internal
// conversation thread.
type ThreadMapping struct {
	Platform      bus.Platform `json:"platform"`
	ExternalID    string       `json:"external_id"`
	ThreadID      string       `json:"thread_id"`
	CreatedAt     time.Time    `json:"created_at"`
	LastMessageAt time.Time    `json:"last_message_at"`
}

// Key returns the composite identity of the mapping.
func (m ThreadMapping) Key() string {
	return MappingKey(m.Platform, m.ExternalID)
}

// MappingKey builds the composite identity "platform|external_id".
func MappingKey(platform bus.Platform, externalID string) string {
	return string(platform) + "|" + externalID
}

// ThreadStore persists thread mappings. Save is an upsert keyed on
// (platform, external_id).
type ThreadStore interface {
	LoadAll(ctx context.Context) ([]ThreadMapping, error)
	Save(ctx context.Context, m ThreadMapping) error
	Delete(ctx context.Context, platform bus.Platform, externalID string) error
	Close() error
}
