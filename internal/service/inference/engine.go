// Package inference is the boundary to the classifier: tensors are submitted
// and dispatched without blocking, and the result is collected later through
// a Pending handle.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"edgeclassifier/internal/model"
)

var (
	// ErrNoPending is returned by Dispatch when nothing has been submitted.
	ErrNoPending = errors.New("inference: no tensor submitted")
	// ErrModelNotLoaded is returned when the backend has no usable model.
	ErrModelNotLoaded = errors.New("inference: model not loaded")
	// ErrBusy is returned by Dispatch while an abandoned request still runs.
	ErrBusy = errors.New("inference: previous request still running")
)

// Engine runs the classifier. Submit stages a tensor at a batch index,
// Dispatch starts the computation for everything staged and returns at once.
type Engine interface {
	Submit(batch int, t model.Tensor) error
	Dispatch(ctx context.Context) (Pending, error)
	Close() error
}

// Pending is an in-flight inference request.
type Pending interface {
	// Await blocks until the result is ready or ctx is done.
	Await(ctx context.Context) (*Result, error)
}

// Result holds the per-class probabilities of batch entry 0.
type Result struct {
	Classes []float32

	release func()
	once    sync.Once
}

// NewResult wraps classes; release, if not nil, runs once on Release.
func NewResult(classes []float32, release func()) *Result {
	return &Result{Classes: classes, release: release}
}

// Release returns any backend resources held by the result.
func (r *Result) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.release != nil {
			r.release()
		}
		r.Classes = nil
	})
}

type outcome struct {
	result *Result
	err    error
}

// asyncPending is a Pending fed by a worker goroutine.
type asyncPending struct {
	done chan outcome
}

func goPending(fn func() (*Result, error)) *asyncPending {
	p := &asyncPending{done: make(chan outcome, 1)}
	go func() {
		res, err := fn()
		p.done <- outcome{result: res, err: err}
	}()
	return p
}

func (p *asyncPending) Await(ctx context.Context) (*Result, error) {
	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting inference result: %w", ctx.Err())
	}
}

// slot admits one in-flight worker at a time, so requests whose callers
// stopped waiting cannot pile up behind a slow model.
type slot struct {
	ch chan struct{}
}

func newSlot() slot {
	return slot{ch: make(chan struct{}, 1)}
}

// acquire reserves the slot or fails with ErrBusy.
func (s slot) acquire() (release func(), err error) {
	select {
	case s.ch <- struct{}{}:
		return func() { <-s.ch }, nil
	default:
		return nil, ErrBusy
	}
}

// goPendingSlot runs fn on a worker holding the slot, which release frees.
func goPendingSlot(release func(), fn func() (*Result, error)) *asyncPending {
	return goPending(func() (*Result, error) {
		defer release()
		return fn()
	})
}

// staging holds the tensor submitted for the next dispatch. Only batch
// index 0 is supported.
type staging struct {
	mu     sync.Mutex
	tensor *model.Tensor
}

func (s *staging) submit(batch int, t model.Tensor) error {
	if batch != 0 {
		return fmt.Errorf("inference: batch index %d out of range", batch)
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("inference: tensor has %d elements, shape %v needs %d", len(t.Data), t.Shape, t.Len())
	}
	s.mu.Lock()
	s.tensor = &t
	s.mu.Unlock()
	return nil
}

func (s *staging) take() (model.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tensor == nil {
		return model.Tensor{}, ErrNoPending
	}
	t := *s.tensor
	s.tensor = nil
	return t, nil
}
