package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davicafu/outboxlab/internal/outbox/application"
	"github.com/davicafu/outboxlab/internal/outbox/domain"
)

const meterName = "outboxlab.outbox"

// OtelSink exporta el estado del outbox como instrumentos OpenTelemetry.
// Es a la vez StatusSink del monitor y DispatchRecorder del dispatcher.
type OtelSink struct {
	records   metric.Int64Gauge
	claimed   metric.Int64Counter
	published metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	deferred  metric.Int64Counter
	lost      metric.Int64Counter
}

var (
	_ application.StatusSink       = (*OtelSink)(nil)
	_ application.DispatchRecorder = (*OtelSink)(nil)
)

// NewOtelSink usa el MeterProvider global si provider es nil.
func NewOtelSink(provider metric.MeterProvider) (*OtelSink, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		s   OtelSink
		err error
	)
	s.records, err = meter.Int64Gauge(
		"outbox.records",
		metric.WithDescription("Outbox records per status"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.records gauge: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&s.claimed, "outbox.dispatch.claimed", "Records claimed by the dispatcher"},
		{&s.published, "outbox.dispatch.published", "Records published and marked PUBLISHED"},
		{&s.retried, "outbox.dispatch.retried", "Publish attempts that failed and will be retried"},
		{&s.failed, "outbox.dispatch.failed", "Records moved to FAILED"},
		{&s.deferred, "outbox.dispatch.deferred", "Records left untouched because the broker circuit was open"},
		{&s.lost, "outbox.dispatch.claim_lost", "Records whose claim expired before saving the outcome"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("{record}"))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}
	}
	return &s, nil
}

func (s *OtelSink) RecordStatusCounts(ctx context.Context, counts map[domain.Status]int64, _ time.Time) error {
	for status, n := range counts {
		s.records.Record(ctx, n, metric.WithAttributes(attribute.String("status", status.String())))
	}
	return nil
}

func (s *OtelSink) RecordDispatch(ctx context.Context, res application.DispatchResult) {
	add := func(c metric.Int64Counter, n int) {
		if n > 0 {
			c.Add(ctx, int64(n))
		}
	}
	add(s.claimed, res.Claimed)
	add(s.published, res.Published)
	add(s.retried, res.Retried)
	add(s.failed, res.Failed)
	add(s.deferred, res.Deferred)
	add(s.lost, res.Lost)
}
