// Package driver runs the per-stream double-buffered classification pipeline:
// while the engine works on the frame buffered during the previous tick, the
// frame that just arrived is preprocessed and takes its place in the buffer.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"edgeclassifier/internal/config"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/service/decoder"
	"edgeclassifier/internal/service/inference"
	"edgeclassifier/internal/service/metrics"
	"edgeclassifier/internal/service/preprocess"
	"edgeclassifier/internal/service/streambuffer"

	"gocv.io/x/gocv"
)

// Overlay anchor of detection labels, relative to the image size.
const (
	LabelX = 0.02
	LabelY = 0.9
)

// PrepareFunc turns an image into an input tensor.
type PrepareFunc func(img gocv.Mat) (model.Tensor, error)

// DetectionFunc observes the detections decoded for an output frame.
type DetectionFunc func(frame *model.Frame, detections []model.Detection)

// Options configures a Driver.
type Options struct {
	Threshold        float32
	TargetClassIndex int
	EpochFrames      int
	FaultPolicy      string
	// InferenceTimeout bounds the wait for a result; 0 waits forever.
	InferenceTimeout time.Duration
	Dimensions       map[string]string

	Prepare      PrepareFunc
	OnDetections DetectionFunc
}

// OptionsFromConfig builds driver options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:        cfg.Threshold,
		TargetClassIndex: cfg.TargetClassIndex,
		EpochFrames:      cfg.EpochFrames,
		FaultPolicy:      cfg.FaultPolicy,
		InferenceTimeout: cfg.InferenceTimeout,
		Dimensions:       metrics.Dimensions(cfg.AppName),
	}
}

// Driver owns the stream buffer and the epoch aggregator. Tick and
// ProcessMedia must be called from a single goroutine.
type Driver struct {
	engine     inference.Engine
	buffer     *streambuffer.Buffer
	decoder    *decoder.Decoder
	aggregator *metrics.Aggregator
	sink       metrics.Sink
	logger     *logger.Logger
	opts       Options

	mu        sync.RWMutex
	tick      int
	lastEpoch *model.Epoch
}

// New creates a Driver. sink may be nil, in which case epochs are only
// logged.
func New(engine inference.Engine, sink metrics.Sink, log *logger.Logger, opts Options) *Driver {
	if opts.Prepare == nil {
		opts.Prepare = preprocess.Prepare
	}
	if opts.FaultPolicy == "" {
		opts.FaultPolicy = config.FaultPolicySkip
	}
	return &Driver{
		engine:     engine,
		buffer:     streambuffer.New(),
		decoder:    decoder.New(opts.TargetClassIndex),
		aggregator: metrics.NewAggregator(opts.EpochFrames),
		sink:       sink,
		logger:     log,
		opts:       opts,
	}
}

// Buffer exposes the stream buffer for status reporting and teardown.
func (d *Driver) Buffer() *streambuffer.Buffer {
	return d.buffer
}

// Aggregator exposes the epoch aggregator for status reporting.
func (d *Driver) Aggregator() *metrics.Aggregator {
	return d.aggregator
}

// LastEpoch returns the most recently flushed epoch.
func (d *Driver) LastEpoch() (model.Epoch, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastEpoch == nil {
		return model.Epoch{}, false
	}
	return *d.lastEpoch, true
}

// ProcessMedia pushes media into its stream's pipeline and returns the frame
// to emit for this tick: the frame buffered on the previous tick, annotated
// with its detections. On the first tick of a stream that is media itself.
func (d *Driver) ProcessMedia(ctx context.Context, media *model.Frame) (*model.Frame, error) {
	output, _, err := d.processMedia(ctx, media)
	return output, err
}

// processMedia is ProcessMedia that also reports the inference wall time in
// milliseconds.
func (d *Driver) processMedia(ctx context.Context, media *model.Frame) (*model.Frame, float64, error) {
	stream := media.StreamURI

	entry, ok := d.buffer.Get(stream)
	if !ok {
		tensor, err := d.opts.Prepare(media.Image)
		if err != nil {
			return nil, 0, streamErr(stream, StagePreprocess, err)
		}
		entry = model.Entry{Raw: media, Tensor: tensor}
		d.buffer.Set(stream, entry)
		d.logger.Info("Set up frame buffer for stream: %s", stream)
		d.logger.Info("Stream image size: %dx%d", media.Image.Cols(), media.Image.Rows())
	}
	output := entry.Raw

	inferenceStart := time.Now()
	if err := d.engine.Submit(0, entry.Tensor); err != nil {
		return nil, 0, streamErr(stream, StageSubmit, err)
	}
	pending, err := d.engine.Dispatch(ctx)
	if err != nil {
		return nil, 0, streamErr(stream, StageDispatch, err)
	}

	// Preprocess the new frame while the engine works.
	tensor, prepErr := d.opts.Prepare(media.Image)
	if prepErr == nil {
		d.buffer.Set(stream, model.Entry{Raw: media, Tensor: tensor})
	} else {
		// The buffered tensor is in flight, so nothing valid is left to
		// buffer. The next frame refills the pipeline.
		d.buffer.Remove(stream)
	}

	result, err := d.await(ctx, pending)
	if prepErr != nil {
		result.Release()
		discard(output, media)
		return nil, 0, streamErr(stream, StagePreprocess, prepErr)
	}
	if err != nil {
		discard(output, media)
		return nil, 0, streamErr(stream, StageAwait, err)
	}
	inferenceMs := float64(time.Since(inferenceStart).Microseconds()) / 1000

	detections := d.decoder.Decode(result.Classes, d.opts.Threshold)
	for _, det := range detections {
		d.logger.Info("Detected: %s on %s", det.Label, stream)
		output.AddLabel(det.Label, LabelX, LabelY)
	}
	result.Release()

	if d.opts.OnDetections != nil && len(detections) > 0 {
		d.opts.OnDetections(output, detections)
	}

	return output, inferenceMs, nil
}

// discard closes the frame of the previous tick once a failure after step 4
// has left it in neither the buffer nor the tick's outputs. media stays with
// the caller.
func discard(output, media *model.Frame) {
	if output != media && !output.Pinned() {
		output.Close()
	}
}

func (d *Driver) await(ctx context.Context, pending inference.Pending) (*inference.Result, error) {
	if d.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.InferenceTimeout)
		defer cancel()
	}
	return pending.Await(ctx)
}

// Tick processes one frame per stream and returns one output per input
// index. Under the skip policy a failing stream leaves a nil slot and its
// error is joined into the returned error; under the fail policy the first
// error ends the tick and nothing is recorded for it.
func (d *Driver) Tick(ctx context.Context, frames []*model.Frame) ([]*model.Frame, error) {
	frameStart := time.Now()
	var sample []float64

	outputs := make([]*model.Frame, len(frames))
	var errs []error
	for i, media := range frames {
		if media == nil {
			continue
		}
		out, inferenceMs, err := d.processMedia(ctx, media)
		if err != nil {
			if d.opts.FaultPolicy == config.FaultPolicyFail {
				return outputs, err
			}
			errs = append(errs, err)
			continue
		}
		outputs[i] = out
		sample = append(sample, inferenceMs)
	}

	d.mu.Lock()
	d.tick++
	tick := d.tick
	d.mu.Unlock()

	for _, ms := range sample {
		d.aggregator.RecordInference(ms)
	}
	d.aggregator.RecordFrame(float64(time.Since(frameStart).Microseconds()) / 1000)

	if epoch, ok := d.aggregator.MaybeFlush(tick, len(frames)); ok {
		d.publish(ctx, epoch)
	}
	return outputs, errors.Join(errs...)
}

// TickCount returns the number of completed ticks.
func (d *Driver) TickCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tick
}

func (d *Driver) publish(ctx context.Context, epoch model.Epoch) {
	d.mu.Lock()
	d.lastEpoch = &epoch
	d.mu.Unlock()

	metrics.LogEpoch(d.logger, epoch)
	if d.sink == nil {
		return
	}
	if err := metrics.Publish(ctx, d.sink, epoch, d.opts.Dimensions); err != nil {
		d.logger.Warning("Failed to publish epoch metrics: %v", err)
	}
}
