package cache

import (
	"time"

	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/metrics"
)

// Store is the two-tier cache: a volatile memory tier in front of an optional
// durable tier. Reads consult memory first and promote durable hits; writes
// land in memory synchronously and in the durable tier best-effort, since
// memory already holds the authoritative value for this session.
type Store struct {
	memory  *MemoryCache
	durable DurableStore
	logger  logger.Logger

	now func() time.Time
}

func NewStore(durable DurableStore, l logger.Logger) *Store {
	return &Store{
		memory:  NewMemoryCache(),
		durable: durable,
		logger:  l,
		now:     time.Now,
	}
}

// SetClockForTest replaces the freshness time source.
func (s *Store) SetClockForTest(now func() time.Time) {
	s.now = now
}

// Get returns the entry for key if it is still fresh. An expired entry is a
// miss here but remains retrievable via GetStale.
func (s *Store) Get(key string) (Entry, bool) {
	now := s.now()

	if e, ok := s.memory.Get(key); ok {
		if e.Fresh(now) {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return e, true
		}
		// Memory is authoritative for this session; the durable tier cannot
		// hold anything fresher.
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}

	if s.durable == nil {
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}

	e, ok, err := s.durable.GetEntry(key)
	if err != nil {
		s.logger.Warn("durable cache read failed, treating as miss", "key", key, "error", err)
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}
	if !ok {
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}

	// Promote even when expired so the entry can serve as a stale fallback
	// without another durable read.
	s.memory.Set(key, e)

	if !e.Fresh(now) {
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}

	metrics.CacheHits.WithLabelValues("durable").Inc()
	return e, true
}

// GetStale returns the entry for key ignoring TTL. Used only when a fresh
// fetch has failed and stale data is better than an error.
func (s *Store) GetStale(key string) (Entry, bool) {
	if e, ok := s.memory.Get(key); ok {
		return e, true
	}

	if s.durable == nil {
		return Entry{}, false
	}

	e, ok, err := s.durable.GetEntry(key)
	if err != nil {
		s.logger.Warn("durable stale read failed", "key", key, "error", err)
		return Entry{}, false
	}
	if ok {
		s.memory.Set(key, e)
	}
	return e, ok
}

func (s *Store) Put(key string, payload []byte, ttl time.Duration, source layer.SourceKind) {
	e := Entry{
		Key:       key,
		Payload:   payload,
		Source:    source,
		CreatedAt: s.now(),
		TTL:       ttl,
	}

	s.memory.Set(key, e)
	metrics.CacheStores.Inc()

	if s.durable == nil {
		return
	}
	if err := s.durable.PutEntry(e); err != nil {
		// Best-effort: the logical Put already succeeded in memory.
		s.logger.Warn("durable cache write failed", "key", key, "error", err)
	}
}

func (s *Store) Invalidate(key string) {
	s.memory.Delete(key)

	if s.durable == nil {
		return
	}
	if err := s.durable.DeleteEntry(key); err != nil {
		s.logger.Warn("durable cache delete failed", "key", key, "error", err)
	}
}

func (s *Store) Clear() error {
	s.memory.Clear()

	if s.durable == nil {
		return nil
	}
	return s.durable.Purge()
}
