package cache

import (
	"time"

	"github.com/atlasview/layerd/internal/layer"
)

// Entry is a single cached layer payload with its freshness window and the
// provenance the upstream declared when it was produced.
type Entry struct {
	Key       string
	Payload   []byte
	Source    layer.SourceKind
	CreatedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still servable at the given instant.
// Expired entries are retained as stale fallback candidates.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.CreatedAt) <= e.TTL
}

// DurableStore is a durable key/value tier for cache entries. Implementations
// must treat unreadable entries as absent and purge them rather than surface
// corruption to callers.
type DurableStore interface {
	GetEntry(key string) (Entry, bool, error)
	PutEntry(e Entry) error
	DeleteEntry(key string) error
	Purge() error
}
