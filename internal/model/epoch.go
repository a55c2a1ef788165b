package model

import "time"

// EpochMetrics are the running counters of the current epoch, in milliseconds.
type EpochMetrics struct {
	InferenceTimeSum float64 `json:"inference_time_sum"`
	InferenceTimeMax float64 `json:"inference_time_max"`
	FrameTimeSum     float64 `json:"frame_time_sum"`
	FrameTimeMax     float64 `json:"frame_time_max"`
	FrameCount       int     `json:"frame_count"`
}

// Epoch is the summary emitted when an epoch completes.
type Epoch struct {
	ID           int64         `json:"id,omitempty"`
	RunID        string        `json:"run_id,omitempty"`
	Tick         int           `json:"tick"`
	FrameCount   int           `json:"frame_count"`
	StreamCount  int           `json:"stream_count"`
	AvgInference float64       `json:"avg_inference_ms"`
	MaxInference float64       `json:"max_inference_ms"`
	P95Inference float64       `json:"p95_inference_ms"`
	AvgFrame     float64       `json:"avg_frame_ms"`
	MaxFrame     float64       `json:"max_frame_ms"`
	Duration     time.Duration `json:"duration"`
	FPS          float64       `json:"fps"`
	StartedAt    time.Time     `json:"started_at"`
}

// MetricRecord is one named value delivered to the metrics store.
type MetricRecord struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Dimensions map[string]string `json:"dimensions"`
	CreatedAt  time.Time         `json:"created_at"`
}
