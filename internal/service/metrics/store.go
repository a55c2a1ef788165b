package metrics

import (
	"context"
	"fmt"
	"time"

	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository"
)

// StoreSink keeps metrics and epoch summaries in the database.
type StoreSink struct {
	metrics repository.MetricRepository
	epochs  repository.EpochRepository
	runID   string
}

func NewStoreSink(metrics repository.MetricRepository, epochs repository.EpochRepository, runID string) *StoreSink {
	return &StoreSink{metrics: metrics, epochs: epochs, runID: runID}
}

func (s *StoreSink) PutMetric(_ context.Context, name string, value float64, dims map[string]string) error {
	_, err := s.metrics.Insert(&model.MetricRecord{
		Name:       name,
		Value:      value,
		Dimensions: dims,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store metric %s: %w", name, err)
	}
	return nil
}

func (s *StoreSink) RecordEpoch(_ context.Context, epoch model.Epoch) error {
	epoch.RunID = s.runID
	if _, err := s.epochs.Insert(&epoch); err != nil {
		return fmt.Errorf("failed to store epoch: %w", err)
	}
	return nil
}
