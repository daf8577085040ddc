package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the pipeline instruments.
const MeterName = "speaker-transcription/pipeline"

// PipelineMetrics holds the instruments recorded by every pipeline run.
type PipelineMetrics struct {
	stageDuration metric.Float64Histogram
	failures      metric.Int64Counter
	wordsDropped  metric.Int64Counter
}

// NewPipelineMetrics creates the instruments on the global meter provider.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(MeterName)

	stageDuration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of one pipeline stage"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("pipeline.failures",
		metric.WithDescription("Pipeline runs that failed, by kind"),
	)
	if err != nil {
		return nil, err
	}
	wordsDropped, err := meter.Int64Counter("alignment.words.dropped",
		metric.WithDescription("Words whose midpoint fell outside every speaker turn"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		stageDuration: stageDuration,
		failures:      failures,
		wordsDropped:  wordsDropped,
	}, nil
}

func (m *PipelineMetrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PipelineMetrics) RecordFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *PipelineMetrics) RecordDropped(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.wordsDropped.Add(ctx, int64(n))
}
