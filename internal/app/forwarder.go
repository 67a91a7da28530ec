package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/forwarder"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
)

// Forwarder is the application context of the forwarder process
type Forwarder struct {
	Config    *config.Forwarder
	Logger    *zap.Logger
	Queue     webhook.Queue
	Exporter  *metrics.OTelExporter
	Forwarder *forwarder.Forwarder
	Metrics   *http.Server
}

// NewForwarderID returns a process-unique id used in heartbeats
func NewForwarderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "forwarder"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// NewForwarder wires the queue consumer, delivery client and metrics for cfg
func NewForwarder(ctx context.Context, cfg *config.Forwarder, logger *zap.Logger) (*Forwarder, error) {
	exporter, err := metrics.NewOTelExporter("forwarder")
	if err != nil {
		return nil, err
	}
	recorder, err := metrics.NewRecorder(exporter.Meter())
	if err != nil {
		return nil, err
	}

	q, err := NewQueue(ctx, cfg.Base, Consumer)
	if err != nil {
		return nil, err
	}

	id := NewForwarderID()
	var opts []forwarder.Option
	if hb, ok := q.(forwarder.Heartbeater); ok {
		opts = append(opts, forwarder.WithHeartbeater(hb))
	}

	fw := forwarder.New(q, forwarder.Config{
		ID:            id,
		QueueType:     cfg.QueueType,
		TargetURL:     cfg.TargetURL,
		Headers:       cfg.Headers,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelayDuration(),
		Timeout:       cfg.TimeoutDuration(),
	}, logger.With(zap.String("forwarder_id", id)), recorder, opts...)

	f := &Forwarder{
		Config:    cfg,
		Logger:    logger,
		Queue:     q,
		Exporter:  exporter,
		Forwarder: fw,
	}
	if cfg.Metrics.Enabled {
		f.Metrics = MetricsServer(cfg.Metrics, exporter)
	}

	logger.Info("webhook relay forwarder initialized",
		zap.String("target_url", cfg.TargetURL),
		zap.String("queue_type", cfg.QueueType),
	)
	return f, nil
}

// Run serves metrics and forwards messages until ctx is cancelled
func (f *Forwarder) Run(ctx context.Context) error {
	serveMetrics(ctx, f.Metrics, f.Logger)
	return f.Forwarder.Run(ctx)
}

// Close releases the queue client and flushes metrics
func (f *Forwarder) Close(ctx context.Context) error {
	return errors.Join(f.Queue.Close(), f.Exporter.Shutdown(ctx))
}
