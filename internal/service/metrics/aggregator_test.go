package metrics

import (
	"testing"
	"time"

	"edgeclassifier/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func recordTicks(a *Aggregator, n int, frameMs float64, inferenceMs ...float64) {
	for i := 0; i < n; i++ {
		for _, ms := range inferenceMs {
			a.RecordInference(ms)
		}
		a.RecordFrame(frameMs)
	}
}

func TestAggregator_FlushesAfterEpoch(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewAggregatorWithClock(150, clock.now)

	for tick := 1; tick < 150; tick++ {
		a.RecordInference(10)
		a.RecordFrame(20)
		_, ok := a.MaybeFlush(tick, 1)
		require.False(t, ok, "tick %d flushed early", tick)
	}

	a.RecordInference(40)
	a.RecordFrame(50)
	clock.advance(5 * time.Second)

	epoch, ok := a.MaybeFlush(150, 1)
	require.True(t, ok)

	assert.Equal(t, 150, epoch.Tick)
	assert.Equal(t, 150, epoch.FrameCount)
	assert.InDelta(t, (149*10.0+40)/150, epoch.AvgInference, 1e-9)
	assert.InDelta(t, (149*20.0+50)/150, epoch.AvgFrame, 1e-9)
	assert.Equal(t, 40.0, epoch.MaxInference)
	assert.Equal(t, 50.0, epoch.MaxFrame)
	assert.Equal(t, 5*time.Second, epoch.Duration)
	assert.InDelta(t, 30.0, epoch.FPS, 1e-9)

	assert.Equal(t, model.EpochMetrics{}, a.Snapshot(), "counters reset after flush")
}

func TestAggregator_TickAfterFlushStartsFreshWindow(t *testing.T) {
	a := NewAggregator(150)
	recordTicks(a, 150, 20, 10)
	_, ok := a.MaybeFlush(150, 1)
	require.True(t, ok)

	a.RecordInference(99)
	a.RecordFrame(7)
	_, ok = a.MaybeFlush(151, 1)
	assert.False(t, ok)

	snap := a.Snapshot()
	assert.Equal(t, 1, snap.FrameCount)
	assert.Equal(t, 99.0, snap.InferenceTimeSum)
	assert.Equal(t, 99.0, snap.InferenceTimeMax)
	assert.Equal(t, 7.0, snap.FrameTimeSum)
	assert.Equal(t, 7.0, snap.FrameTimeMax)
}

func TestAggregator_InferenceAverageDividesByStreams(t *testing.T) {
	a := NewAggregator(10)
	// Two streams per tick, 8ms and 12ms each.
	recordTicks(a, 10, 30, 8, 12)

	epoch, ok := a.MaybeFlush(10, 2)
	require.True(t, ok)
	assert.InDelta(t, 10.0, epoch.AvgInference, 1e-9)
	assert.Equal(t, 2, epoch.StreamCount)
	assert.Equal(t, 12.0, epoch.MaxInference)
}

func TestAggregator_ZeroStreamsDoesNotDivideByZero(t *testing.T) {
	a := NewAggregator(3)
	recordTicks(a, 3, 1)

	epoch, ok := a.MaybeFlush(3, 0)
	require.True(t, ok)
	assert.Zero(t, epoch.AvgInference)
	assert.Zero(t, epoch.P95Inference)
}

func TestAggregator_P95(t *testing.T) {
	a := NewAggregator(100)
	for i := 1; i <= 100; i++ {
		a.RecordInference(float64(i))
		a.RecordFrame(1)
	}

	epoch, ok := a.MaybeFlush(100, 1)
	require.True(t, ok)
	assert.Equal(t, 95.0, epoch.P95Inference)
}

func TestAggregator_DefaultEpoch(t *testing.T) {
	assert.Equal(t, DefaultEpochFrames, NewAggregator(0).EpochFrames())
	assert.Equal(t, 150, DefaultEpochFrames)
}
