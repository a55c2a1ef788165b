package repository

import "edgeclassifier/internal/model"

// EpochRepository stores epoch summaries.
type EpochRepository interface {
	Insert(epoch *model.Epoch) (int64, error)
	Recent(limit int) ([]model.Epoch, error)
	Count() (int, error)
}

// MetricRepository stores individual metric values.
type MetricRepository interface {
	Insert(rec *model.MetricRecord) (int64, error)
	RecentByName(name string, limit int) ([]model.MetricRecord, error)
}

// DetectionRepository stores detections drawn on emitted frames.
type DetectionRepository interface {
	InsertBatch(records []model.DetectionRecord) error
	Recent(streamURI string, limit int) ([]model.DetectionRecord, error)
	CountTargets(streamURI string) (int, error)
}

// SnapshotRepository stores metadata of annotated frames saved to disk.
type SnapshotRepository interface {
	Insert(s *model.Snapshot) (int64, error)
	GetByFilename(filename string) (*model.Snapshot, error)
	Recent(limit int) ([]model.Snapshot, error)
	DeleteAll() error
}
