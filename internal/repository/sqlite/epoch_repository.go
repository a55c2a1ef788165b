package sqlite

import (
	"fmt"
	"time"

	"edgeclassifier/internal/model"
)

// EpochRepository implements repository.EpochRepository for SQLite.
type EpochRepository struct {
	db *DB
}

func NewEpochRepository(db *DB) *EpochRepository {
	return &EpochRepository{db: db}
}

// Insert adds an epoch summary.
func (r *EpochRepository) Insert(e *model.Epoch) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO epochs (run_id, tick, frame_count, stream_count, avg_inference_ms, max_inference_ms,
			p95_inference_ms, avg_frame_ms, max_frame_ms, duration_ms, fps, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Tick, e.FrameCount, e.StreamCount, e.AvgInference, e.MaxInference,
		e.P95Inference, e.AvgFrame, e.MaxFrame, float64(e.Duration)/float64(time.Millisecond), e.FPS, e.StartedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert epoch: %w", err)
	}

	return result.LastInsertId()
}

// Recent returns up to limit epochs, newest first.
func (r *EpochRepository) Recent(limit int) ([]model.Epoch, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, run_id, tick, frame_count, stream_count, avg_inference_ms, max_inference_ms,
			p95_inference_ms, avg_frame_ms, max_frame_ms, duration_ms, fps, started_at
		FROM epochs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []model.Epoch
	for rows.Next() {
		var e model.Epoch
		var durationMs float64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Tick, &e.FrameCount, &e.StreamCount, &e.AvgInference,
			&e.MaxInference, &e.P95Inference, &e.AvgFrame, &e.MaxFrame, &durationMs, &e.FPS, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		e.Duration = time.Duration(durationMs * float64(time.Millisecond))
		epochs = append(epochs, e)
	}

	return epochs, rows.Err()
}

// Count returns the number of stored epochs.
func (r *EpochRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM epochs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count epochs: %w", err)
	}
	return n, nil
}
