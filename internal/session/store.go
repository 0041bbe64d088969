package session

import (
	"database/sql"
	"time"

	"github.com/atlasview/layerd/pkg/logger"
)

// BlobStore persists the session snapshot as a single opaque blob under one
// well-known key.
type BlobStore interface {
	Load() ([]byte, bool, error)
	Save(data []byte) error
	Delete() error
}

// SQLiteStore keeps the snapshot in the single-row session_snapshot table.
// A row replace is atomic, which gives the whole-snapshot write semantics.
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

var _ BlobStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) Load() ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM session_snapshot WHERE id = 1`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLiteStore) Save(data []byte) error {
	s.logger.Debug("persisting session snapshot", "size", len(data))

	query := `INSERT INTO session_snapshot (id, data, updated_at)
	VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, data, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) Delete() error {
	_, err := s.db.Exec(`DELETE FROM session_snapshot WHERE id = 1`)
	return err
}
