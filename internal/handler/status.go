package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"edgeclassifier/internal/dto"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository"
	"edgeclassifier/internal/service/metrics"
	"edgeclassifier/internal/service/streambuffer"
)

// Pipeline is the read side of the frame driver used by the status API.
type Pipeline interface {
	Buffer() *streambuffer.Buffer
	Aggregator() *metrics.Aggregator
	LastEpoch() (model.Epoch, bool)
	TickCount() int
}

// ViewerCounter reports the number of connected viewers.
type ViewerCounter interface {
	GetClientCount() int
}

// StreamsHandler lists the buffered streams and the frame each one holds.
func StreamsHandler(pipeline Pipeline, viewers ViewerCounter, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buffer := pipeline.Buffer()
		data := dto.StreamsData{
			Tick:    pipeline.TickCount(),
			Streams: make([]dto.StreamStatus, 0, buffer.Len()),
		}
		if viewers != nil {
			data.Viewers = viewers.GetClientCount()
		}
		for _, uri := range buffer.Streams() {
			entry, ok := buffer.Get(uri)
			if !ok || entry.Raw == nil {
				continue
			}
			data.Streams = append(data.Streams, dto.StreamStatus{
				Stream:     uri,
				Seq:        entry.Raw.Seq,
				ReceivedAt: entry.Raw.ReceivedAt,
			})
		}
		writeJSON(w, logger, data)
	}
}

// MetricsHandler returns the epoch in progress, the last flushed epoch and,
// when epochRepo is set, the most recent stored epochs (?limit=, default 10).
func MetricsHandler(pipeline Pipeline, epochRepo repository.EpochRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aggregator := pipeline.Aggregator()
		data := dto.MetricsData{
			EpochFrames: aggregator.EpochFrames(),
			Current:     aggregator.Snapshot(),
			History:     []model.Epoch{},
		}
		if last, ok := pipeline.LastEpoch(); ok {
			data.Last = &last
		}
		if epochRepo != nil {
			history, err := epochRepo.Recent(atoiDefault(r.URL.Query().Get("limit"), 10))
			if err != nil {
				logger.Error("Error querying epochs: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			data.History = history
		}
		writeJSON(w, logger, data)
	}
}

// DetectionsHandler returns recent detections, optionally for one stream
// (?stream=&limit=).
func DetectionsHandler(detectionRepo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if detectionRepo == nil {
			http.Error(w, "Detections are not stored", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		stream := q.Get("stream")
		limit := atoiDefault(q.Get("limit"), 50)

		records, err := detectionRepo.Recent(stream, limit)
		if err != nil {
			logger.Error("Error querying detections: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		targets, err := detectionRepo.CountTargets(stream)
		if err != nil {
			logger.Error("Error counting target detections: %v", err)
		}
		if records == nil {
			records = []model.DetectionRecord{}
		}
		writeJSON(w, logger, dto.DetectionsData{Stream: stream, Targets: targets, Detections: records})
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts s to int or returns def when conversion fails or the
// value is not positive.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
