package sqlite

import (
	"encoding/json"
	"fmt"

	"edgeclassifier/internal/model"
)

// MetricRepository implements repository.MetricRepository for SQLite.
type MetricRepository struct {
	db *DB
}

func NewMetricRepository(db *DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Insert adds a metric value; dimensions are stored as JSON.
func (r *MetricRepository) Insert(rec *model.MetricRecord) (int64, error) {
	dims, err := json.Marshal(rec.Dimensions)
	if err != nil {
		return 0, fmt.Errorf("failed to encode dimensions: %w", err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO metrics (name, value, dimensions, created_at) VALUES (?, ?, ?, ?)
	`, rec.Name, rec.Value, string(dims), rec.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert metric: %w", err)
	}

	return result.LastInsertId()
}

// RecentByName returns up to limit values of the named metric, newest first.
func (r *MetricRepository) RecentByName(name string, limit int) ([]model.MetricRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, name, value, dimensions, created_at
		FROM metrics WHERE name = ? ORDER BY id DESC LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var records []model.MetricRecord
	for rows.Next() {
		var rec model.MetricRecord
		var dims string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Value, &dims, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if err := json.Unmarshal([]byte(dims), &rec.Dimensions); err != nil {
			return nil, fmt.Errorf("failed to decode dimensions: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
