package cache

import (
	"database/sql"
	"time"

	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/pkg/logger"
)

// SQLiteStore is the durable tier backed by the local sqlite database.
// Schema lives in internal/repository/sqlite/migrations.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewSQLiteStore(db *sql.DB, l logger.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: l,
	}
}

var _ DurableStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) GetEntry(key string) (Entry, bool, error) {
	s.logger.Debug("sqlite cache get", "key", key)

	query := `SELECT payload, source, created_at, ttl_ms
	FROM layer_cache
	WHERE cache_key = ?`

	var (
		payload   []byte
		source    string
		createdAt int64
		ttlMs     int64
	)
	err := s.db.QueryRow(query, key).Scan(&payload, &source, &createdAt, &ttlMs)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		s.logger.Error("sqlite cache get failed", "key", key, "error", err)
		return Entry{}, false, err
	}

	kind, known := layer.ParseSourceKind(source)
	if !known || len(payload) == 0 || ttlMs < 0 {
		// Corrupted row: purge it and report a miss.
		s.logger.Warn("purging corrupt cache row", "key", key, "source", source)
		if err := s.DeleteEntry(key); err != nil {
			s.logger.Error("failed to purge corrupt cache row", "key", key, "error", err)
		}
		return Entry{}, false, nil
	}

	return Entry{
		Key:       key,
		Payload:   payload,
		Source:    kind,
		CreatedAt: time.UnixMilli(createdAt),
		TTL:       time.Duration(ttlMs) * time.Millisecond,
	}, true, nil
}

func (s *SQLiteStore) PutEntry(e Entry) error {
	s.logger.Debug("sqlite cache set", "key", e.Key, "size", len(e.Payload))

	query := `INSERT INTO layer_cache (cache_key, payload, source, created_at, ttl_ms)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET
		payload = excluded.payload,
		source = excluded.source,
		created_at = excluded.created_at,
		ttl_ms = excluded.ttl_ms`

	_, err := s.db.Exec(query, e.Key, e.Payload, e.Source.String(), e.CreatedAt.UnixMilli(), e.TTL.Milliseconds())
	if err != nil {
		s.logger.Error("sqlite cache set failed", "key", e.Key, "error", err)
		return err
	}

	return nil
}

func (s *SQLiteStore) DeleteEntry(key string) error {
	_, err := s.db.Exec(`DELETE FROM layer_cache WHERE cache_key = ?`, key)
	return err
}

func (s *SQLiteStore) Purge() error {
	_, err := s.db.Exec(`DELETE FROM layer_cache`)
	return err
}
