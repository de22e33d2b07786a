package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable snapshot store. Snapshots are append-only and
// versioned per document; reads always take the highest version.
type Store struct {
	db *sql.DB
}

type Snapshot struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int64     `json:"version"`
	Payload    []byte    `json:"-"`
	Size       int       `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps snapshot writes from blocking concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(document_id, version),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_document_version
		ON snapshots(document_id, version DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Document operations

func (s *Store) EnsureDocument(id string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO documents (id) VALUES (?)",
		id,
	)
	return err
}

// Snapshot operations

// AppendSnapshot durably stores a new full-state snapshot under the next
// version number for the document. Existing versions are never rewritten.
func (s *Store) AppendSnapshot(documentID string, payload []byte) (*Snapshot, error) {
	if err := s.EnsureDocument(documentID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRow(
		"SELECT COALESCE(MAX(version), 0) + 1 FROM snapshots WHERE document_id = ?",
		documentID,
	).Scan(&version); err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		"INSERT INTO snapshots (document_id, version, payload) VALUES (?, ?, ?)",
		documentID, version, payload,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		"UPDATE documents SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		documentID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:         id,
		DocumentID: documentID,
		Version:    version,
		Payload:    payload,
		Size:       len(payload),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// LoadLatestSnapshot returns the highest-version snapshot for a document, or
// nil if the document has never been snapshotted.
func (s *Store) LoadLatestSnapshot(documentID string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, document_id, version, payload, created_at
		FROM snapshots
		WHERE document_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, documentID)

	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.DocumentID, &snap.Version, &snap.Payload, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Size = len(snap.Payload)
	return &snap, nil
}

// ListSnapshots returns snapshot metadata for a document, newest first. The
// payload itself is not included.
func (s *Store) ListSnapshots(documentID string, limit, offset int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, version, LENGTH(payload), created_at
		FROM snapshots
		WHERE document_id = ?
		ORDER BY version DESC
		LIMIT ? OFFSET ?
	`, documentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.DocumentID, &snap.Version, &snap.Size, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) SnapshotCount(documentID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM snapshots WHERE document_id = ?",
		documentID,
	).Scan(&count)
	return count, err
}

// PruneSnapshots deletes all but the most recent keepCount versions for a
// document.
func (s *Store) PruneSnapshots(documentID string, keepCount int) error {
	_, err := s.db.Exec(`
		DELETE FROM snapshots
		WHERE document_id = ? AND id NOT IN (
			SELECT id FROM snapshots
			WHERE document_id = ?
			ORDER BY version DESC
			LIMIT ?
		)
	`, documentID, documentID, keepCount)
	return err
}

// Stats

func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var docCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&docCount); err != nil {
		return nil, err
	}
	stats["document_count"] = docCount

	var snapCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&snapCount); err != nil {
		return nil, err
	}
	stats["snapshot_count"] = snapCount

	return stats, nil
}
