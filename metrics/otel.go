package metrics

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	Endpoint     string
	PushInterval time.Duration
	Insecure     bool
}

// OTELExporter exports registry metrics to an OpenTelemetry collector
type OTELExporter struct {
	collector     *Collector
	config        OTELConfig
	meterProvider *sdkmetric.MeterProvider
	instanceGauge metric.Int64Gauge
	totalGauge    metric.Int64Gauge
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewOTELExporter creates a new OTEL metrics exporter
func NewOTELExporter(ctx context.Context, collector *Collector, config OTELConfig) (*OTELExporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("vpsd"),
			semconv.ServiceVersionKey.String(collector.infoProvider.GetVersion()),
			attribute.String("node.name", collector.infoProvider.GetDeploymentName()),
			attribute.String("node.uuid", collector.nodeUUID),
		),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(config.PushInterval))),
	)
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter("vpsd")

	instanceGauge, err := meter.Int64Gauge("vpsd_instances_owned",
		metric.WithDescription("Managed VPS instances per owner"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	totalGauge, err := meter.Int64Gauge("vpsd_instances_total",
		metric.WithDescription("Total managed VPS instances"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	exporterCtx, cancel := context.WithCancel(ctx)

	return &OTELExporter{
		collector:     collector,
		config:        config,
		meterProvider: meterProvider,
		instanceGauge: instanceGauge,
		totalGauge:    totalGauge,
		ctx:           exporterCtx,
		cancel:        cancel,
	}, nil
}

// Start begins pushing metrics to the OTEL collector
func (e *OTELExporter) Start() {
	go e.pushMetrics()
}

// pushMetrics periodically samples the registry and records gauges
func (e *OTELExporter) pushMetrics() {
	// Push immediately on start
	e.recordMetrics()

	ticker := time.NewTicker(e.config.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.recordMetrics()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *OTELExporter) recordMetrics() {
	counts := e.collector.Collect()

	e.totalGauge.Record(e.ctx, int64(counts.Total),
		metric.WithAttributes(
			attribute.String("node_uuid", e.collector.nodeUUID),
		),
	)
	for owner, count := range counts.PerOwner {
		e.instanceGauge.Record(e.ctx, int64(count),
			metric.WithAttributes(
				attribute.String("node_uuid", e.collector.nodeUUID),
				attribute.String("owner_id", owner),
			),
		)
	}
}

// Shutdown gracefully shuts down the OTEL exporter
func (e *OTELExporter) Shutdown() error {
	e.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.meterProvider.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down OTEL meter provider: %v", err)
		return err
	}

	return nil
}
