package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidahmann/creditgate/pkg/types"
)

const meterName = "github.com/davidahmann/creditgate/internal/workflow"

type metrics struct {
	started     metric.Int64Counter
	completed   metric.Int64Counter
	failed      metric.Int64Counter
	stageEvents metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var (
		m   metrics
		err error
	)
	if m.started, err = meter.Int64Counter("creditgate.runs.started",
		metric.WithDescription("Workflow runs admitted past the single-run check"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.completed, err = meter.Int64Counter("creditgate.runs.completed",
		metric.WithDescription("Workflow runs that reached Completed"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("creditgate.runs.failed",
		metric.WithDescription("Workflow runs that ended in Failed"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.stageEvents, err = meter.Int64Counter("creditgate.stage.events",
		metric.WithDescription("Stage events appended to the event log"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) stageEvent(ctx context.Context, stage types.Stage, status types.EventStatus) {
	m.stageEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", string(status)),
	))
}
