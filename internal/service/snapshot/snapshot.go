// Package snapshot buffers annotated frames with target detections and the
// detections of every frame, and periodically writes them to disk and the
// database.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository"
)

const (
	// DefaultLimit is how many images per stream are kept between flushes.
	DefaultLimit = 10
	// DefaultFlushInterval is the time between flushes.
	DefaultFlushInterval = 30 * time.Second

	maxPendingDetections = 4096
	timestampLayout      = "2006-01-02_15-04-05.000"
)

type bufferedImage struct {
	stream    string
	seq       uint64
	timestamp time.Time
	labels    []string
	data      []byte
}

// Options configures a Service.
type Options struct {
	Directory     string
	Limit         int
	FlushInterval time.Duration
	RunID         string
}

// Service holds snapshots and detection records in memory until the next
// flush.
type Service struct {
	imagesDir     string
	limit         int
	flushInterval time.Duration
	runID         string

	mu          sync.Mutex
	images      []bufferedImage
	bufferCount map[string]int
	detections  []model.DetectionRecord

	snapshotRepo  repository.SnapshotRepository
	detectionRepo repository.DetectionRepository
	logger        *logger.Logger
	now           func() time.Time
}

// NewService creates a Service. Either repository may be nil, in which case
// that part is not persisted.
func NewService(opts Options, logger *logger.Logger, snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) *Service {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Service{
		imagesDir:     opts.Directory,
		limit:         opts.Limit,
		flushInterval: opts.FlushInterval,
		runID:         opts.RunID,
		bufferCount:   make(map[string]int),
		snapshotRepo:  snapshotRepo,
		detectionRepo: detectionRepo,
		logger:        logger,
		now:           time.Now,
	}
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			s.Flush()
			return nil
		}
	}
}

// RecordDetections queues the detections drawn on frame for persistence.
func (s *Service) RecordDetections(frame *model.Frame, detections []model.Detection) {
	if s.detectionRepo == nil || len(detections) == 0 {
		return
	}
	now := s.now().UTC()

	s.mu.Lock()
	for _, det := range detections {
		s.detections = append(s.detections, model.DetectionRecord{
			RunID:       s.runID,
			StreamURI:   frame.StreamURI,
			Seq:         frame.Seq,
			ClassIndex:  det.ClassIndex,
			Probability: float64(det.Probability),
			Label:       det.Label,
			Target:      det.Target,
			CreatedAt:   now,
		})
	}
	full := len(s.detections) >= maxPendingDetections
	s.mu.Unlock()

	if full {
		s.flushDetections()
	}
}

// AddImage buffers a rendered frame. It reports false once the stream has
// reached its limit for the current flush period.
func (s *Service) AddImage(frame *model.Frame, jpeg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[frame.StreamURI] >= s.limit {
		return false
	}

	labels := make([]string, 0)
	for _, l := range frame.Labels() {
		labels = append(labels, l.Text)
	}
	s.images = append(s.images, bufferedImage{
		stream:    frame.StreamURI,
		seq:       frame.Seq,
		timestamp: s.now(),
		labels:    labels,
		data:      jpeg,
	})
	s.bufferCount[frame.StreamURI]++
	s.logger.Debug("Snapshot buffer for stream %s: %d/%d", frame.StreamURI, s.bufferCount[frame.StreamURI], s.limit)
	return true
}

// Pending returns the number of buffered images and detection records.
func (s *Service) Pending() (images, detections int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images), len(s.detections)
}

// Flush writes buffered images and detections and resets the per-stream
// counters. It returns the number of images saved.
func (s *Service) Flush() int {
	s.flushDetections()

	s.mu.Lock()
	images := s.images
	s.images = nil
	s.bufferCount = make(map[string]int)
	s.mu.Unlock()

	if len(images) == 0 {
		return 0
	}
	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, image := range images {
		filename := Filename(image.timestamp, image.stream, image.seq)
		fullpath := filepath.Join(s.imagesDir, filename)

		if err := os.WriteFile(fullpath, image.data, 0644); err != nil {
			s.logger.Error("Error saving image %s: %v", filename, err)
			continue
		}

		if s.snapshotRepo != nil {
			_, err := s.snapshotRepo.Insert(&model.Snapshot{
				Filename:  filename,
				StreamURI: image.stream,
				Seq:       image.seq,
				Timestamp: image.timestamp,
				FilePath:  fullpath,
				FileSize:  int64(len(image.data)),
			})
			if err != nil {
				s.logger.Error("Error saving snapshot to database %s: %v", filename, err)
				continue
			}
		}
		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to disk", savedCount)
	return savedCount
}

func (s *Service) flushDetections() {
	s.mu.Lock()
	records := s.detections
	s.detections = nil
	s.mu.Unlock()

	if len(records) == 0 || s.detectionRepo == nil {
		return
	}
	if err := s.detectionRepo.InsertBatch(records); err != nil {
		s.logger.Error("Error saving %d detections to database: %v", len(records), err)
	}
}

// Filename builds the snapshot file name for a frame.
func Filename(ts time.Time, stream string, seq uint64) string {
	return fmt.Sprintf("%s_%s_%d.jpg", ts.Format(timestampLayout), sanitize(stream), seq)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}

// ErrBadFilename is returned by ParseFilename for names not produced by
// Filename.
var ErrBadFilename = errors.New("not a snapshot file name")

// ParseFilename reverses Filename. The stream comes back in its sanitized
// form.
func ParseFilename(name string) (ts time.Time, stream string, seq uint64, err error) {
	base, ok := strings.CutSuffix(name, ".jpg")
	if !ok || len(base) < len(timestampLayout)+4 || base[len(timestampLayout)] != '_' {
		return time.Time{}, "", 0, fmt.Errorf("%q: %w", name, ErrBadFilename)
	}
	ts, err = time.ParseInLocation(timestampLayout, base[:len(timestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, "", 0, fmt.Errorf("%q: %w", name, ErrBadFilename)
	}

	rest := base[len(timestampLayout)+1:]
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return time.Time{}, "", 0, fmt.Errorf("%q: %w", name, ErrBadFilename)
	}
	seq, err = strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, "", 0, fmt.Errorf("%q: %w", name, ErrBadFilename)
	}
	return ts, rest[:i], seq, nil
}
