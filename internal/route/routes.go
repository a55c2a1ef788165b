package route

import (
	"net/http"
	"os"
	"path/filepath"

	"edgeclassifier/internal/config"
	"edgeclassifier/internal/handler"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/middleware"
	"edgeclassifier/internal/repository"
	wsservice "edgeclassifier/internal/service/websocket"
)

// Dependencies are the services the HTTP API reads from.
type Dependencies struct {
	Pipeline      handler.Pipeline
	Hub           *wsservice.HubService
	EpochRepo     repository.EpochRepository
	DetectionRepo repository.DetectionRepository
	SnapshotRepo  repository.SnapshotRepository
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean(path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the viewer websocket, the status API, the snapshot
// gallery and the log endpoints.
func SetupRoutes(deps Dependencies, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// API endpoints
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(deps.Hub, logger))
	mux.HandleFunc("/api/streams", handler.StreamsHandler(deps.Pipeline, deps.Hub, logger))
	mux.HandleFunc("/api/metrics", handler.MetricsHandler(deps.Pipeline, deps.EpochRepo, logger))
	mux.HandleFunc("/api/detections", handler.DetectionsHandler(deps.DetectionRepo, logger))

	if deps.SnapshotRepo != nil {
		mux.HandleFunc("/api/snapshots", handler.SnapshotsHandler(cfg.ImageDirectory, deps.SnapshotRepo, logger))
		mux.HandleFunc("/api/snapshots/view", handler.ViewSnapshotHandler(cfg.ImageDirectory))
		mux.HandleFunc("/api/snapshots/clear", handler.ClearSnapshotsHandler(cfg.ImageDirectory, deps.SnapshotRepo, logger))
	}

	// Log endpoints
	for _, level := range handler.LogLevels {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(cfg.LogDirectory, level))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, level))
	}

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.Recover(logger, middleware.RequestLogger(logger, mux))
}
