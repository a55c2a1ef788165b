package model

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Label is an overlay annotation anchored at coordinates relative to the
// image size (0..1 on both axes).
type Label struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Frame is one image received from a stream together with the overlay
// annotations attached to it. A frame handed to the driver is owned by the
// pipeline until it is closed.
type Frame struct {
	StreamURI  string
	Seq        uint64
	ReceivedAt time.Time
	Image      gocv.Mat

	mu     sync.Mutex
	labels []Label
	pinned bool
	closed bool
}

// NewFrame wraps an image received from streamURI.
func NewFrame(streamURI string, seq uint64, img gocv.Mat) *Frame {
	return &Frame{
		StreamURI:  streamURI,
		Seq:        seq,
		ReceivedAt: time.Now(),
		Image:      img,
	}
}

// AddLabel attaches an overlay annotation to the frame.
func (f *Frame) AddLabel(text string, x, y float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, Label{Text: text, X: x, Y: y})
}

// Labels returns a copy of the annotations in the order they were added.
func (f *Frame) Labels() []Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Label, len(f.labels))
	copy(out, f.labels)
	return out
}

// Pin marks the frame as held by a stream buffer.
func (f *Frame) Pin() {
	f.mu.Lock()
	f.pinned = true
	f.mu.Unlock()
}

// Unpin releases the stream buffer's hold on the frame.
func (f *Frame) Unpin() {
	f.mu.Lock()
	f.pinned = false
	f.mu.Unlock()
}

// Pinned reports whether a stream buffer still holds the frame.
func (f *Frame) Pinned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned
}

// Closed reports whether the image memory has been released.
func (f *Frame) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close releases the image memory. Calling Close more than once is a no-op.
func (f *Frame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.Image.Close()
}
