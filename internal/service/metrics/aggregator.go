// Package metrics accumulates per-tick timing samples into fixed-size epochs
// and delivers the epoch summaries to metrics sinks.
package metrics

import (
	"sort"
	"sync"
	"time"

	"edgeclassifier/internal/model"

	"gonum.org/v1/gonum/stat"
)

// DefaultEpochFrames is the number of ticks per epoch.
const DefaultEpochFrames = 150

// Aggregator is the epoch state machine: it accumulates samples until
// epochFrames ticks have been recorded, then emits a summary and resets.
type Aggregator struct {
	epochFrames int
	now         func() time.Time

	mu         sync.Mutex
	counters   model.EpochMetrics
	inference  []float64
	epochStart time.Time
}

// NewAggregator creates an Aggregator flushing every epochFrames ticks.
// Non-positive values select DefaultEpochFrames.
func NewAggregator(epochFrames int) *Aggregator {
	return NewAggregatorWithClock(epochFrames, time.Now)
}

// NewAggregatorWithClock is NewAggregator with an injected clock.
func NewAggregatorWithClock(epochFrames int, now func() time.Time) *Aggregator {
	if epochFrames <= 0 {
		epochFrames = DefaultEpochFrames
	}
	return &Aggregator{
		epochFrames: epochFrames,
		now:         now,
		inference:   make([]float64, 0, epochFrames),
		epochStart:  now(),
	}
}

// EpochFrames returns the epoch length in ticks.
func (a *Aggregator) EpochFrames() int {
	return a.epochFrames
}

// RecordFrame adds the processing time of one tick.
func (a *Aggregator) RecordFrame(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters.FrameTimeSum += ms
	if ms > a.counters.FrameTimeMax {
		a.counters.FrameTimeMax = ms
	}
	a.counters.FrameCount++
}

// RecordInference adds the inference wall time of one stream.
func (a *Aggregator) RecordInference(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counters.InferenceTimeSum += ms
	if ms > a.counters.InferenceTimeMax {
		a.counters.InferenceTimeMax = ms
	}
	a.inference = append(a.inference, ms)
}

// MaybeFlush emits the epoch summary once epochFrames ticks have been
// recorded and resets every counter. streamCount divides the inference
// average, which is summed over all streams of a tick.
func (a *Aggregator) MaybeFlush(tick, streamCount int) (model.Epoch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counters.FrameCount < a.epochFrames {
		return model.Epoch{}, false
	}

	now := a.now()
	epoch := model.Epoch{
		Tick:         tick,
		FrameCount:   a.counters.FrameCount,
		StreamCount:  streamCount,
		MaxInference: a.counters.InferenceTimeMax,
		P95Inference: quantile(0.95, a.inference),
		AvgFrame:     a.counters.FrameTimeSum / float64(a.epochFrames),
		MaxFrame:     a.counters.FrameTimeMax,
		Duration:     now.Sub(a.epochStart),
		StartedAt:    a.epochStart,
	}
	if streamCount > 0 {
		epoch.AvgInference = a.counters.InferenceTimeSum / float64(a.epochFrames) / float64(streamCount)
	}
	if secs := epoch.Duration.Seconds(); secs > 0 {
		epoch.FPS = float64(a.epochFrames) / secs
	}

	a.counters = model.EpochMetrics{}
	a.inference = a.inference[:0]
	a.epochStart = now
	return epoch, true
}

// Snapshot returns the counters of the epoch in progress.
func (a *Aggregator) Snapshot() model.EpochMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

func quantile(p float64, samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
