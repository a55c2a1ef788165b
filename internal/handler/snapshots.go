package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"edgeclassifier/internal/dto"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/repository"
)

// SnapshotsHandler lists the most recent snapshots (?limit=, default 24).
func SnapshotsHandler(imagesDir string, snapshotRepo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), 24)

		snapshots, err := snapshotRepo.Recent(limit)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			infos = append(infos, dto.SnapshotInfo{
				Name:      s.Filename,
				Date:      s.Timestamp,
				TimeOfDay: s.Timestamp,
				Stream:    s.StreamURI,
				Seq:       s.Seq,
				Size:      s.FileSize,
			})
		}
		writeJSON(w, logger, dto.SnapshotsData{Snapshots: infos, ImagesDir: imagesDir, Length: len(infos)})
	}
}

// ViewSnapshotHandler serves a single snapshot named by the "image" query
// parameter.
func ViewSnapshotHandler(imagesDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := filepath.Base(r.URL.Query().Get("image"))
		if image == "" || image == "." || image == string(filepath.Separator) {
			http.Error(w, "Image parameter is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(imagesDir, image))
	}
}

// ClearSnapshotsHandler deletes every file in the snapshot directory and
// the snapshot rows.
func ClearSnapshotsHandler(imagesDir string, snapshotRepo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		files, err := os.ReadDir(imagesDir)
		if err != nil && !os.IsNotExist(err) {
			logger.Error("Error reading snapshot directory: %v", err)
			http.Error(w, "Unable to read snapshot directory", http.StatusInternalServerError)
			return
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(imagesDir, file.Name())); err != nil {
				logger.Error("Error deleting file %s: %v", file.Name(), err)
			}
		}
		if err := snapshotRepo.DeleteAll(); err != nil {
			logger.Error("Error clearing snapshots table: %v", err)
		}

		logger.Info("All snapshots cleared from directory: %s", imagesDir)
		w.WriteHeader(http.StatusNoContent)
	}
}
