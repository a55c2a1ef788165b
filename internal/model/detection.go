package model

import "time"

// Detection is a class whose probability reached the confidence threshold.
type Detection struct {
	ClassIndex  int     `json:"class_index"`
	Probability float32 `json:"probability"`
	Label       string  `json:"label"`
	Target      bool    `json:"target"`
}

// DetectionRecord is a detection persisted together with the frame it was
// drawn on.
type DetectionRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	StreamURI   string    `json:"stream"`
	Seq         uint64    `json:"seq"`
	ClassIndex  int       `json:"class_index"`
	Probability float64   `json:"probability"`
	Label       string    `json:"label"`
	Target      bool      `json:"target"`
	CreatedAt   time.Time `json:"created_at"`
}
