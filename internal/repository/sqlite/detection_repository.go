package sqlite

import (
	"fmt"

	"edgeclassifier/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(records []model.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, stream, seq, class_index, probability, label, target, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range records {
		if _, err := stmt.Exec(d.RunID, d.StreamURI, int64(d.Seq), d.ClassIndex, d.Probability, d.Label, d.Target, d.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit detections, newest first. An empty streamURI
// matches every stream.
func (r *DetectionRepository) Recent(streamURI string, limit int) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, run_id, stream, seq, class_index, probability, label, target, created_at
		FROM detections WHERE (? = '' OR stream = ?) ORDER BY id DESC LIMIT ?
	`, streamURI, streamURI, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var records []model.DetectionRecord
	for rows.Next() {
		var d model.DetectionRecord
		var seq int64
		if err := rows.Scan(&d.ID, &d.RunID, &d.StreamURI, &seq, &d.ClassIndex, &d.Probability, &d.Label, &d.Target, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		d.Seq = uint64(seq)
		records = append(records, d)
	}

	return records, rows.Err()
}

// CountTargets returns how many target-class detections a stream produced.
// An empty streamURI counts all streams.
func (r *DetectionRepository) CountTargets(streamURI string) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	err := r.db.Conn().QueryRow(`
		SELECT COUNT(*) FROM detections WHERE target = 1 AND (? = '' OR stream = ?)
	`, streamURI, streamURI).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count target detections: %w", err)
	}
	return n, nil
}
