package source

import (
	"context"
	"fmt"
	"sync"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"

	"gocv.io/x/gocv"
)

type capture struct {
	uri   string
	video *gocv.VideoCapture
	seq   uint64
	ended bool
}

// CaptureSource reads the configured stream URIs (files, RTSP, HTTP, device
// indexes) through OpenCV.
type CaptureSource struct {
	captures []*capture
	logger   *logger.Logger

	mu     sync.Mutex
	closed bool
}

// OpenCaptures opens every URI. Either all of them open or none stays open.
func OpenCaptures(uris []string, log *logger.Logger) (*CaptureSource, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("no stream URIs configured")
	}
	s := &CaptureSource{logger: log}
	for _, uri := range uris {
		video, err := gocv.OpenVideoCapture(uri)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open stream %s: %w", uri, err)
		}
		if !video.IsOpened() {
			video.Close()
			s.Close()
			return nil, fmt.Errorf("stream %s did not open", uri)
		}
		s.captures = append(s.captures, &capture{uri: uri, video: video})
		log.Info("Opened stream %s", uri)
	}
	return s, nil
}

// Next reads one frame from every stream that has not ended. A stream whose
// read fails is treated as ended.
func (s *CaptureSource) Next(ctx context.Context) ([]*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	frames := make([]*model.Frame, 0, len(s.captures))
	for _, c := range s.captures {
		if c.ended {
			continue
		}
		img := gocv.NewMat()
		if ok := c.video.Read(&img); !ok || img.Empty() {
			img.Close()
			c.ended = true
			s.logger.Warning("Stream %s ended after %d frames", c.uri, c.seq)
			continue
		}
		c.seq++
		frames = append(frames, model.NewFrame(c.uri, c.seq, img))
	}
	if len(frames) == 0 {
		return nil, ErrExhausted
	}
	return frames, nil
}

func (s *CaptureSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, c := range s.captures {
		if err := c.video.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
