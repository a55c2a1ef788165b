package model

import "time"

// Snapshot represents an annotated frame stored on disk.
type Snapshot struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	StreamURI string    `json:"stream"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
}
