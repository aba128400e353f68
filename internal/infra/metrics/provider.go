package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.uber.org/zap"
)

// ProviderConfig describe el MeterProvider del proceso.
type ProviderConfig struct {
	ServiceName string
	InstanceID  string
	// Endpoint del colector OTLP/gRPC; vacío = sin exportador.
	Endpoint string
	Interval time.Duration
}

func newResource(cfg ProviderConfig) *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceInstanceID(cfg.InstanceID),
	)
}

// NewMeterProvider crea el MeterProvider del SDK, lo registra como global y lo
// devuelve para apagarlo en el shutdown (Shutdown hace el último flush).
// Los readers extra permiten inspeccionar las métricas en tests.
func NewMeterProvider(ctx context.Context, cfg ProviderConfig, log *zap.Logger, readers ...sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(newResource(cfg))}

	if cfg.Endpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.Interval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)))
		log.Info("📈 Exportando métricas OTLP", zap.String("endpoint", cfg.Endpoint))
	} else {
		log.Warn("Telemetry exporter turned off ⚠️ (OTEL_EXPORTER_OTLP_ENDPOINT vacío)")
	}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp, nil
}
