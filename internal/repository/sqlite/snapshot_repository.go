package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"edgeclassifier/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert adds a snapshot record.
func (r *SnapshotRepository) Insert(s *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (filename, stream, seq, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.Filename, s.StreamURI, int64(s.Seq), s.Timestamp.UTC(), s.FilePath, s.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return result.LastInsertId()
}

// GetByFilename returns the snapshot stored under filename, or nil.
func (r *SnapshotRepository) GetByFilename(filename string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var s model.Snapshot
	var seq int64
	err := r.db.Conn().QueryRow(`
		SELECT id, filename, stream, seq, timestamp, filepath, filesize
		FROM snapshots WHERE filename = ?
	`, filename).Scan(&s.ID, &s.Filename, &s.StreamURI, &seq, &s.Timestamp, &s.FilePath, &s.FileSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	s.Seq = uint64(seq)
	return &s, nil
}

// Recent returns up to limit snapshots, newest first.
func (r *SnapshotRepository) Recent(limit int) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, filename, stream, seq, timestamp, filepath, filesize
		FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		var seq int64
		if err := rows.Scan(&s.ID, &s.Filename, &s.StreamURI, &seq, &s.Timestamp, &s.FilePath, &s.FileSize); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Seq = uint64(seq)
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// DeleteAll removes every snapshot record.
func (r *SnapshotRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}
