// Package source supplies the frames of each tick.
package source

import (
	"context"
	"errors"

	"edgeclassifier/internal/model"
)

var (
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("source: closed")
	// ErrExhausted is returned when every stream of a source has ended.
	ErrExhausted = errors.New("source: all streams ended")
)

// Source returns at most one frame per stream for every call to Next. The
// caller owns the returned frames.
type Source interface {
	Next(ctx context.Context) ([]*model.Frame, error)
	Close() error
}
