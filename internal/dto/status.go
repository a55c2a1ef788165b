package dto

import (
	"time"

	"edgeclassifier/internal/model"
)

// StreamStatus is the buffered state of one stream.
type StreamStatus struct {
	Stream     string    `json:"stream"`
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// StreamsData is the response of the stream status endpoint.
type StreamsData struct {
	Tick    int            `json:"tick"`
	Viewers int            `json:"viewers"`
	Streams []StreamStatus `json:"streams"`
}

// MetricsData is the response of the metrics endpoint: the epoch in
// progress, the last flushed epoch and stored history.
type MetricsData struct {
	EpochFrames int                `json:"epochFrames"`
	Current     model.EpochMetrics `json:"current"`
	Last        *model.Epoch       `json:"last,omitempty"`
	History     []model.Epoch      `json:"history"`
}

// DetectionsData is the response of the detections endpoint.
type DetectionsData struct {
	Stream     string                  `json:"stream,omitempty"`
	Targets    int                     `json:"targets"`
	Detections []model.DetectionRecord `json:"detections"`
}
