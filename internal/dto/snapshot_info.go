package dto

import (
	"encoding/json"
	"time"
)

// SnapshotInfo describes a stored snapshot for the gallery API.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	TimeOfDay time.Time `json:"timeOfDay"`
	Stream    string    `json:"stream"`
	Seq       uint64    `json:"seq"`
	Size      int64     `json:"size"`
}

// MarshalJSON formats date and time-of-day the way the gallery page shows them.
func (p SnapshotInfo) MarshalJSON() ([]byte, error) {
	type Alias SnapshotInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(p),
	})
}

// SnapshotsData is the response of the snapshot listing.
type SnapshotsData struct {
	Snapshots []SnapshotInfo `json:"snapshots"`
	ImagesDir string         `json:"imagesDir"`
	Length    int            `json:"length"`
}
