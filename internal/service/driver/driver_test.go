package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"edgeclassifier/internal/config"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/service/inference"
	"edgeclassifier/internal/service/preprocess"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fakeEngine answers dispatches in submission order from a queue of outputs
// and remembers every tensor it was given.
type fakeEngine struct {
	outputs   [][]float32
	submitted []model.Tensor
	staged    *model.Tensor

	submitErr   error
	dispatchErr error
	awaitErr    error
	block       chan struct{}
	released    int
}

func (e *fakeEngine) Submit(batch int, t model.Tensor) error {
	if e.submitErr != nil {
		return e.submitErr
	}
	e.staged = &t
	return nil
}

func (e *fakeEngine) Dispatch(ctx context.Context) (inference.Pending, error) {
	if e.dispatchErr != nil {
		return nil, e.dispatchErr
	}
	if e.staged == nil {
		return nil, inference.ErrNoPending
	}
	e.submitted = append(e.submitted, *e.staged)
	e.staged = nil

	var out []float32
	if len(e.outputs) > 0 {
		out, e.outputs = e.outputs[0], e.outputs[1:]
	}
	return &fakePending{engine: e, classes: out}, nil
}

func (e *fakeEngine) Close() error { return nil }

type fakePending struct {
	engine  *fakeEngine
	classes []float32
}

func (p *fakePending) Await(ctx context.Context) (*inference.Result, error) {
	if p.engine.block != nil {
		select {
		case <-p.engine.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.engine.awaitErr != nil {
		return nil, p.engine.awaitErr
	}
	return inference.NewResult(p.classes, func() { p.engine.released++ }), nil
}

type sinkCall struct {
	name  string
	value float64
}

type fakeSink struct {
	calls []sinkCall
}

func (s *fakeSink) PutMetric(_ context.Context, name string, value float64, _ map[string]string) error {
	s.calls = append(s.calls, sinkCall{name, value})
	return nil
}

func newFrame(t *testing.T, uri string, seq uint64) *model.Frame {
	t.Helper()
	v := float64(seq*20) + 10
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), 48, 64, gocv.MatTypeCV8UC3)
	f := model.NewFrame(uri, seq, img)
	t.Cleanup(func() { f.Close() })
	return f
}

func prepared(t *testing.T, f *model.Frame) model.Tensor {
	t.Helper()
	tensor, err := preprocess.Prepare(f.Image)
	require.NoError(t, err)
	return tensor
}

func probs(n int, set map[int]float32) []float32 {
	out := make([]float32, n)
	for i, p := range set {
		out[i] = p
	}
	return out
}

func labelTexts(f *model.Frame) []string {
	var texts []string
	for _, l := range f.Labels() {
		texts = append(texts, l.Text)
	}
	return texts
}

func newDriver(engine inference.Engine, sink *fakeSink, opts Options) *Driver {
	if opts.Threshold == 0 {
		opts.Threshold = 0.5
	}
	if sink == nil {
		return New(engine, nil, logger.Discard(), opts)
	}
	return New(engine, sink, logger.Discard(), opts)
}

func TestProcessMedia_EndToEndScenario(t *testing.T) {
	engine := &fakeEngine{outputs: [][]float32{
		probs(10, map[int]float32{3: 0.92, 7: 0.1}),
		probs(10, map[int]float32{3: 0.4}),
	}}
	d := newDriver(engine, nil, Options{Threshold: 0.5})

	frame1 := newFrame(t, "cam", 1)
	frame2 := newFrame(t, "cam", 2)

	out1, err := d.ProcessMedia(context.Background(), frame1)
	require.NoError(t, err)
	assert.Same(t, frame1, out1)
	assert.Equal(t, []model.Label{{Text: "Class 3 (92%)", X: 0.02, Y: 0.9}}, out1.Labels())

	out2, err := d.ProcessMedia(context.Background(), frame2)
	require.NoError(t, err)
	assert.Same(t, frame1, out2, "tick 2 emits the frame buffered on tick 1")
	assert.Len(t, out2.Labels(), 1, "no label added during tick 2")
	assert.Empty(t, frame2.Labels())

	require.Len(t, engine.submitted, 2)
	want1 := prepared(t, frame1)
	assert.Equal(t, want1.Data, engine.submitted[0].Data)
	assert.Equal(t, want1.Data, engine.submitted[1].Data, "tick 2 infers on frame 1")
	assert.Equal(t, 2, engine.released)
}

func TestProcessMedia_OneTickLag(t *testing.T) {
	const ticks = 6
	engine := &fakeEngine{}
	for k := 0; k < ticks; k++ {
		engine.outputs = append(engine.outputs, probs(ticks+1, map[int]float32{k: 0.8}))
	}
	d := newDriver(engine, nil, Options{})

	frames := make([]*model.Frame, ticks)
	for k := range frames {
		frames[k] = newFrame(t, "cam", uint64(k+1))
	}

	for k, media := range frames {
		out, err := d.ProcessMedia(context.Background(), media)
		require.NoError(t, err)

		if k == 0 {
			assert.Same(t, frames[0], out)
			assert.Equal(t, prepared(t, frames[0]).Data, engine.submitted[0].Data)
			continue
		}
		assert.Same(t, frames[k-1], out, "tick %d", k+1)
		assert.Equal(t, prepared(t, frames[k-1]).Data, engine.submitted[k].Data, "tick %d", k+1)
	}

	// Frame 1 is annotated on ticks 1 and 2, every later frame once.
	assert.Empty(t, cmp.Diff([]string{"Class 0 (80%)", "Class 1 (80%)"}, labelTexts(frames[0])))
	for k := 1; k < ticks-1; k++ {
		assert.Empty(t, cmp.Diff([]string{fmt.Sprintf("Class %d (80%%)", k+1)}, labelTexts(frames[k])))
	}
	assert.Empty(t, frames[ticks-1].Labels(), "last frame is still buffered")

	entry, ok := d.Buffer().Get("cam")
	require.True(t, ok)
	assert.Same(t, frames[ticks-1], entry.Raw)
}

func TestProcessMedia_StreamsAreIndependent(t *testing.T) {
	engine := &fakeEngine{}
	d := newDriver(engine, nil, Options{})

	a1, b1 := newFrame(t, "A", 1), newFrame(t, "B", 3)
	a2, b2 := newFrame(t, "A", 2), newFrame(t, "B", 4)

	for _, f := range []*model.Frame{a1, b1, a2, b2} {
		_, err := d.ProcessMedia(context.Background(), f)
		require.NoError(t, err)
	}

	entryA, ok := d.Buffer().Get("A")
	require.True(t, ok)
	entryB, ok := d.Buffer().Get("B")
	require.True(t, ok)
	assert.Same(t, a2, entryA.Raw)
	assert.Same(t, b2, entryB.Raw)

	require.Len(t, engine.submitted, 4)
	assert.Equal(t, prepared(t, a1).Data, engine.submitted[2].Data, "A's second tick infers on A1")
	assert.Equal(t, prepared(t, b1).Data, engine.submitted[3].Data, "B's second tick infers on B1")
}

func TestProcessMedia_PinsBufferedFrameOnly(t *testing.T) {
	d := newDriver(&fakeEngine{}, nil, Options{})
	f1, f2 := newFrame(t, "cam", 1), newFrame(t, "cam", 2)

	out, err := d.ProcessMedia(context.Background(), f1)
	require.NoError(t, err)
	assert.True(t, out.Pinned(), "first frame is both output and buffered")

	out, err = d.ProcessMedia(context.Background(), f2)
	require.NoError(t, err)
	assert.Same(t, f1, out)
	assert.False(t, f1.Pinned(), "emitted frame left the pipeline")
	assert.True(t, f2.Pinned())
}

func TestProcessMedia_Detections(t *testing.T) {
	engine := &fakeEngine{outputs: [][]float32{probs(5, map[int]float32{2: 0.6, 4: 0.7})}}
	var observed []model.Detection
	d := newDriver(engine, nil, Options{
		TargetClassIndex: 4,
		OnDetections: func(frame *model.Frame, detections []model.Detection) {
			observed = append(observed, detections...)
		},
	})

	_, err := d.ProcessMedia(context.Background(), newFrame(t, "cam", 1))
	require.NoError(t, err)

	want := []model.Detection{
		{ClassIndex: 2, Probability: 0.6, Label: "Class 2 (60%)"},
		{ClassIndex: 4, Probability: 0.7, Label: "Class 4 (70%)", Target: true},
	}
	assert.Empty(t, cmp.Diff(want, observed))
}

func TestProcessMedia_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(*fakeEngine)
		stage string
	}{
		{"submit", func(e *fakeEngine) { e.submitErr = boom }, StageSubmit},
		{"dispatch", func(e *fakeEngine) { e.dispatchErr = boom }, StageDispatch},
		{"await", func(e *fakeEngine) { e.awaitErr = boom }, StageAwait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			tt.setup(engine)
			d := newDriver(engine, nil, Options{})

			out, err := d.ProcessMedia(context.Background(), newFrame(t, "cam", 1))
			assert.Nil(t, out)
			assert.ErrorIs(t, err, boom)

			var se *StreamError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "cam", se.StreamURI)
			assert.Equal(t, tt.stage, se.Stage)
		})
	}
}

func TestProcessMedia_PreprocessFailure(t *testing.T) {
	engine := &fakeEngine{}
	d := newDriver(engine, nil, Options{})

	gray := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC1)
	bad := model.NewFrame("cam", 1, gray)
	defer bad.Close()

	_, err := d.ProcessMedia(context.Background(), bad)
	assert.ErrorIs(t, err, preprocess.ErrChannels)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePreprocess, se.Stage)
	assert.Zero(t, d.Buffer().Len())
	assert.Empty(t, engine.submitted)

	// A bad frame after the pipeline is filled drops the buffer entry but
	// still drains the in-flight request.
	good := newFrame(t, "cam", 2)
	_, err = d.ProcessMedia(context.Background(), good)
	require.NoError(t, err)

	bad2 := model.NewFrame("cam", 3, gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC1))
	defer bad2.Close()
	_, err = d.ProcessMedia(context.Background(), bad2)
	assert.ErrorIs(t, err, preprocess.ErrChannels)
	assert.Zero(t, d.Buffer().Len())
	assert.False(t, good.Pinned())
	assert.True(t, good.Closed(), "the previous frame left the pipeline")
	assert.False(t, bad2.Closed(), "the caller still owns the new frame")
	assert.Equal(t, 2, engine.released)
}

func TestProcessMedia_AwaitFailureClosesPreviousFrame(t *testing.T) {
	engine := &fakeEngine{}
	d := newDriver(engine, nil, Options{})

	first := newFrame(t, "cam", 1)
	_, err := d.ProcessMedia(context.Background(), first)
	require.NoError(t, err)

	engine.awaitErr = errors.New("server unavailable")
	second := newFrame(t, "cam", 2)
	out, err := d.ProcessMedia(context.Background(), second)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, engine.awaitErr)

	assert.True(t, first.Closed())
	assert.True(t, second.Pinned())
	assert.False(t, second.Closed())
}

func TestProcessMedia_FirstTickAwaitFailureKeepsMedia(t *testing.T) {
	engine := &fakeEngine{awaitErr: errors.New("server unavailable")}
	d := newDriver(engine, nil, Options{})

	media := newFrame(t, "cam", 1)
	_, err := d.ProcessMedia(context.Background(), media)
	assert.Error(t, err)
	assert.True(t, media.Pinned())
	assert.False(t, media.Closed())
}

func TestProcessMedia_DoesNotFeedAggregator(t *testing.T) {
	engine := &fakeEngine{}
	d := newDriver(engine, nil, Options{})

	for seq := uint64(1); seq <= 3; seq++ {
		_, err := d.ProcessMedia(context.Background(), newFrame(t, "cam", seq))
		require.NoError(t, err)
	}
	assert.Zero(t, d.Aggregator().Snapshot().InferenceTimeSum)

	engine.submitErr = errors.New("queue full")
	_, err := d.Tick(context.Background(), []*model.Frame{newFrame(t, "cam", 4)})
	assert.Error(t, err)
	assert.Zero(t, d.Aggregator().Snapshot().InferenceTimeSum)
	assert.Equal(t, 1, d.Aggregator().Snapshot().FrameCount)
}

func TestProcessMedia_InferenceTimeout(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	d := newDriver(engine, nil, Options{InferenceTimeout: 20 * time.Millisecond})

	_, err := d.ProcessMedia(context.Background(), newFrame(t, "cam", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageAwait, se.Stage)
}

func TestTick_SkipPolicyIsolatesFailingStream(t *testing.T) {
	engine := &fakeEngine{outputs: [][]float32{probs(4, map[int]float32{1: 0.9}), probs(4, nil)}}
	d := newDriver(engine, nil, Options{FaultPolicy: config.FaultPolicySkip})

	bad := model.NewFrame("bad", 1, gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC1))
	defer bad.Close()
	good := newFrame(t, "good", 1)

	outputs, err := d.Tick(context.Background(), []*model.Frame{bad, good})
	require.Error(t, err)
	require.Len(t, outputs, 2)
	assert.Nil(t, outputs[0])
	assert.Same(t, good, outputs[1])
	assert.Equal(t, []string{"Class 1 (90%)"}, labelTexts(good))

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bad", se.StreamURI)
	assert.Equal(t, 1, d.TickCount())
	assert.Equal(t, 1, d.Aggregator().Snapshot().FrameCount)
}

func TestTick_FailPolicyAbortsTick(t *testing.T) {
	engine := &fakeEngine{}
	d := newDriver(engine, nil, Options{FaultPolicy: config.FaultPolicyFail})

	good := newFrame(t, "good", 1)
	bad := model.NewFrame("bad", 1, gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC1))
	defer bad.Close()
	never := newFrame(t, "never", 1)

	outputs, err := d.Tick(context.Background(), []*model.Frame{good, bad, never})
	require.Error(t, err)
	assert.Same(t, good, outputs[0])
	assert.Nil(t, outputs[1])
	assert.Nil(t, outputs[2])
	assert.Len(t, engine.submitted, 1, "streams after the failure are not processed")

	assert.Zero(t, d.TickCount())
	assert.Zero(t, d.Aggregator().Snapshot().FrameCount)
}

func TestTick_FlushesEpoch(t *testing.T) {
	sink := &fakeSink{}
	d := newDriver(&fakeEngine{}, sink, Options{EpochFrames: 150})
	frames := []*model.Frame{newFrame(t, "A", 1), newFrame(t, "B", 1)}

	for tick := 1; tick <= 149; tick++ {
		_, err := d.Tick(context.Background(), frames)
		require.NoError(t, err)
	}
	assert.Empty(t, sink.calls)
	_, ok := d.LastEpoch()
	assert.False(t, ok)

	_, err := d.Tick(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, sink.calls, 2)
	assert.Equal(t, "InferenceTime", sink.calls[0].name)
	assert.Equal(t, "FrameTime", sink.calls[1].name)

	epoch, ok := d.LastEpoch()
	require.True(t, ok)
	assert.Equal(t, 150, epoch.Tick)
	assert.Equal(t, 2, epoch.StreamCount)
	assert.Zero(t, d.Aggregator().Snapshot().FrameCount)

	_, err = d.Tick(context.Background(), frames)
	require.NoError(t, err)
	assert.Len(t, sink.calls, 2, "tick 151 starts a new epoch")
	assert.Equal(t, 1, d.Aggregator().Snapshot().FrameCount)
}

func TestStreamError_Message(t *testing.T) {
	err := &StreamError{StreamURI: "rtsp://cam1", Stage: StageAwait, Err: context.Canceled}
	assert.Equal(t, "stream rtsp://cam1: await: context canceled", err.Error())
	assert.ErrorIs(t, err, context.Canceled)
}
