package source

import (
	"context"
	"sort"
	"sync"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"

	"gocv.io/x/gocv"
)

// CameraStats counts what happened to pushed camera images.
type CameraStats struct {
	Received     uint64 `json:"received"`
	Dropped      uint64 `json:"dropped"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// CameraSource keeps the latest JPEG pushed by each camera. An image that is
// replaced before Next picks it up is dropped.
type CameraSource struct {
	mu      sync.Mutex
	pending map[string][]byte
	seq     map[string]uint64
	stats   CameraStats
	closed  bool

	notify chan struct{}
	done   chan struct{}
	logger *logger.Logger
}

func NewCameraSource(log *logger.Logger) *CameraSource {
	return &CameraSource{
		pending: make(map[string][]byte),
		seq:     make(map[string]uint64),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  log,
	}
}

// StreamURI is the stream identifier of a UDP camera.
func StreamURI(camera string) string {
	return "udp://" + camera
}

// Push stores a complete JPEG image from camera. It never blocks.
func (s *CameraSource) Push(camera string, jpeg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.pending[camera]; ok {
		s.stats.Dropped++
	}
	s.pending[camera] = jpeg
	s.stats.Received++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until at least one camera has a new image and returns the
// latest image of every such camera, ordered by stream URI.
func (s *CameraSource) Next(ctx context.Context) ([]*model.Frame, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		images := s.pending
		if len(images) > 0 {
			s.pending = make(map[string][]byte)
		}
		s.mu.Unlock()

		if frames := s.decode(images); len(frames) > 0 {
			return frames, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *CameraSource) decode(images map[string][]byte) []*model.Frame {
	cameras := make([]string, 0, len(images))
	for camera := range images {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)

	frames := make([]*model.Frame, 0, len(cameras))
	for _, camera := range cameras {
		img, err := gocv.IMDecode(images[camera], gocv.IMReadColor)
		if err != nil || img.Empty() {
			if err == nil {
				img.Close()
			}
			s.mu.Lock()
			s.stats.DecodeErrors++
			s.mu.Unlock()
			s.logger.Warning("Failed to decode image from camera %s: %v", camera, err)
			continue
		}

		s.mu.Lock()
		s.seq[camera]++
		seq := s.seq[camera]
		s.mu.Unlock()
		frames = append(frames, model.NewFrame(StreamURI(camera), seq, img))
	}
	return frames
}

// Stats returns a snapshot of the counters.
func (s *CameraSource) Stats() CameraStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close wakes a blocked Next and discards undelivered images.
func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	close(s.done)
	return nil
}
