package driver

import "fmt"

// Stages of ProcessMedia reported in StreamError.
const (
	StagePreprocess = "preprocess"
	StageSubmit     = "submit"
	StageDispatch   = "dispatch"
	StageAwait      = "await"
	StageOverlay    = "overlay"
)

// StreamError is a failure scoped to one stream within one tick.
type StreamError struct {
	StreamURI string
	Stage     string
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %s: %v", e.StreamURI, e.Stage, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func streamErr(uri, stage string, err error) *StreamError {
	return &StreamError{StreamURI: uri, Stage: stage, Err: err}
}
