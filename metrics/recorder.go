package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

/* Recorder holds the relay instruments
 * Names follow the Prometheus conventions once exported: counters gain _total,
 * histograms in seconds gain _seconds.
 */
type Recorder struct {
	received       metric.Int64Counter
	processing     metric.Float64Histogram
	publish        metric.Int64Counter
	publishErrors  metric.Int64Counter
	receive        metric.Int64Counter
	deleted        metric.Int64Counter
	forward        metric.Int64Counter
	forwardErrors  metric.Int64Counter
	forwardRetries metric.Int64Counter
	forwardLatency metric.Float64Histogram
	up             metric.Int64Gauge
}

// NewRecorder creates every relay instrument on meter
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.received, "webhook_relay_received", "Total number of webhooks received"},
		{&r.publish, "webhook_relay_queue_publish", "Total number of messages published to queue"},
		{&r.publishErrors, "webhook_relay_queue_publish_errors", "Total number of errors publishing to queue"},
		{&r.receive, "webhook_relay_queue_receive", "Total number of messages received from queue"},
		{&r.deleted, "webhook_relay_queue_delete", "Total number of messages deleted from queue"},
		{&r.forward, "webhook_relay_forward", "Total number of webhooks forwarded"},
		{&r.forwardErrors, "webhook_relay_forward_errors", "Total number of errors forwarding webhooks"},
		{&r.forwardRetries, "webhook_relay_forward_retry", "Total number of webhook forward retries"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}

	r.processing, err = meter.Float64Histogram(
		"webhook_relay_processing",
		metric.WithDescription("Time spent processing webhooks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processing histogram: %w", err)
	}

	r.forwardLatency, err = meter.Float64Histogram(
		"webhook_relay_forward_duration",
		metric.WithDescription("Time spent forwarding webhooks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating forward histogram: %w", err)
	}

	r.up, err = meter.Int64Gauge(
		"webhook_relay_up",
		metric.WithDescription("Whether the webhook relay service is up"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating up gauge: %w", err)
	}

	return r, nil
}

// NopRecorder returns a Recorder that discards everything
func NopRecorder() *Recorder {
	r, err := NewRecorder(noop.NewMeterProvider().Meter("noop"))
	if err != nil {
		// The noop meter never fails
		panic(err)
	}
	return r
}

func source(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("source", name))
}

func queueType(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("queue_type", name))
}

func target(url string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("target", url))
}

// WebhookReceived counts an inbound webhook and its processing time
func (r *Recorder) WebhookReceived(ctx context.Context, src string, elapsed time.Duration) {
	r.received.Add(ctx, 1, source(src))
	r.processing.Record(ctx, elapsed.Seconds(), source(src))
}

// QueuePublished counts a publish attempt
func (r *Recorder) QueuePublished(ctx context.Context, queue string, err error) {
	if err != nil {
		r.publishErrors.Add(ctx, 1, queueType(queue))
		return
	}
	r.publish.Add(ctx, 1, queueType(queue))
}

// QueueReceived counts a message received from the queue
func (r *Recorder) QueueReceived(ctx context.Context, queue string) {
	r.receive.Add(ctx, 1, queueType(queue))
}

// QueueDeleted counts a message deleted from the queue
func (r *Recorder) QueueDeleted(ctx context.Context, queue string) {
	r.deleted.Add(ctx, 1, queueType(queue))
}

// Forwarded counts a successful delivery and records its latency
func (r *Recorder) Forwarded(ctx context.Context, url string, elapsed time.Duration) {
	r.forward.Add(ctx, 1, target(url))
	r.forwardLatency.Record(ctx, elapsed.Seconds(), target(url))
}

// ForwardFailed counts a failed attempt; statusCode is 0 for transport errors
func (r *Recorder) ForwardFailed(ctx context.Context, url string, statusCode int) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	r.forwardErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", url),
		attribute.String("status_code", code),
	))
}

// ForwardRetried counts a retry of a failed attempt
func (r *Recorder) ForwardRetried(ctx context.Context, url string) {
	r.forwardRetries.Add(ctx, 1, target(url))
}

// SetUp flags a component as up or down
func (r *Recorder) SetUp(ctx context.Context, component string, up bool) {
	var v int64
	if up {
		v = 1
	}
	r.up.Record(ctx, v, metric.WithAttributes(attribute.String("component", component)))
}
