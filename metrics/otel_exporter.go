package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export in Prometheus format
// Each exporter owns its registry so collector and forwarder processes (and tests) never share state
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
	meter         metric.Meter

	queueDepthGauge       metric.Int64ObservableGauge
	activeForwardersGauge metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter backed by a private Prometheus registry
func NewOTelExporter(component string) (*OTelExporter, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	meter := meterProvider.Meter(
		"webhook-relay/"+component,
		metric.WithInstrumentationVersion("1.0.0"),
	)

	return &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		meter:         meter,
	}, nil
}

// Meter returns the meter used to create instruments
func (oe *OTelExporter) Meter() metric.Meter {
	return oe.meter
}

// Registry returns the Prometheus registry the exporter writes to
func (oe *OTelExporter) Registry() *prometheus.Registry {
	return oe.registry
}

// ObserveState registers the queue state gauges, read from collector on every scrape
func (oe *OTelExporter) ObserveState(collector StateCollector, queueType string) error {
	attrs := metric.WithAttributes(attribute.String("queue_type", queueType))
	var err error

	oe.queueDepthGauge, err = oe.meter.Int64ObservableGauge(
		"webhook_relay_queue_depth",
		metric.WithDescription("Number of messages waiting or leased in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			depth, err := collector.QueueDepth(ctx)
			if errors.Is(err, ErrUnsupported) {
				return nil
			}
			if err != nil {
				return err
			}
			observer.Observe(depth, attrs)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating queue depth gauge: %w", err)
	}

	oe.activeForwardersGauge, err = oe.meter.Int64ObservableGauge(
		"webhook_relay_forwarders_active",
		metric.WithDescription("Number of forwarders with a live heartbeat"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			forwarders, err := collector.ActiveForwarders(ctx)
			if errors.Is(err, ErrUnsupported) {
				return nil
			}
			if err != nil {
				return err
			}
			observer.Observe(int64(len(forwarders)), attrs)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating active forwarders gauge: %w", err)
	}

	return nil
}

// Handler serves Prometheus-formatted metrics from the exporter's registry
func (oe *OTelExporter) Handler() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
