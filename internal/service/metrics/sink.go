package metrics

import (
	"context"
	"errors"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
)

// Names of the metrics emitted for every epoch.
const (
	MetricInferenceTime = "InferenceTime"
	MetricFrameTime     = "FrameTime"
)

// Sink accepts named metric values. Delivery and failure semantics belong to
// the implementation.
type Sink interface {
	PutMetric(ctx context.Context, name string, value float64, dims map[string]string) error
}

// EpochRecorder is implemented by sinks that also keep whole epoch summaries.
type EpochRecorder interface {
	RecordEpoch(ctx context.Context, epoch model.Epoch) error
}

// Publish sends the two epoch metrics to sink, then the full summary when
// sink is an EpochRecorder.
func Publish(ctx context.Context, sink Sink, epoch model.Epoch, dims map[string]string) error {
	err := errors.Join(
		sink.PutMetric(ctx, MetricInferenceTime, epoch.AvgInference, dims),
		sink.PutMetric(ctx, MetricFrameTime, epoch.AvgFrame, dims),
	)
	if r, ok := sink.(EpochRecorder); ok {
		err = errors.Join(err, r.RecordEpoch(ctx, epoch))
	}
	return err
}

// Dimensions returns the dimension set attached to every metric.
func Dimensions(appName string) map[string]string {
	return map[string]string{"ApplicationName": appName}
}

// LogEpoch writes the human-readable epoch summary.
func LogEpoch(log *logger.Logger, epoch model.Epoch) {
	log.Info("epoch length: %.3f s (%.3f FPS)", epoch.Duration.Seconds(), epoch.FPS)
	log.Info("avg inference time: %.3f ms", epoch.AvgInference)
	log.Info("max inference time: %.3f ms", epoch.MaxInference)
	log.Info("p95 inference time: %.3f ms", epoch.P95Inference)
	log.Info("avg frame processing time: %.3f ms", epoch.AvgFrame)
	log.Info("max frame processing time: %.3f ms", epoch.MaxFrame)
}

// LogSink writes every metric to the log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) PutMetric(_ context.Context, name string, value float64, dims map[string]string) error {
	s.log.Info("metric %s=%.3f %v", name, value, dims)
	return nil
}

// MultiSink fans every call out to all of its sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) PutMetric(ctx context.Context, name string, value float64, dims map[string]string) error {
	var errs []error
	for _, s := range m {
		if err := s.PutMetric(ctx, name, value, dims); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) RecordEpoch(ctx context.Context, epoch model.Epoch) error {
	var errs []error
	for _, s := range m {
		if r, ok := s.(EpochRecorder); ok {
			if err := r.RecordEpoch(ctx, epoch); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
