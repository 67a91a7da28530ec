package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	relaychi "github.com/marcelsud/webhook-relay/internal/http/chi"
	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/sources"
	"github.com/marcelsud/webhook-relay/webhook"
)

/* Collector is the application context of the collector process
 * Built once in main and passed explicitly; nothing here is global
 */
type Collector struct {
	Config   *config.Collector
	Logger   *zap.Logger
	Queue    webhook.Queue
	Sources  *sources.Loader
	Service  *webhook.Service
	Exporter *metrics.OTelExporter
	Recorder *metrics.Recorder
	Metrics  *http.Server
}

// NewCollector wires sources, queue and metrics for cfg.
// The caller owns the returned value and must Close it.
func NewCollector(ctx context.Context, cfg *config.Collector, logger *zap.Logger) (*Collector, error) {
	loader, err := sources.FromConfig(cfg.WebhookSources)
	if err != nil {
		return nil, fmt.Errorf("loading webhook sources: %w", err)
	}
	if cfg.SourcesFile != "" {
		if err := loader.Load(cfg.SourcesFile); err != nil {
			return nil, fmt.Errorf("loading sources file: %w", err)
		}
	}

	exporter, err := metrics.NewOTelExporter("collector")
	if err != nil {
		return nil, err
	}
	recorder, err := metrics.NewRecorder(exporter.Meter())
	if err != nil {
		return nil, err
	}

	q, err := NewQueue(ctx, cfg.Base, Publisher)
	if err != nil {
		return nil, err
	}

	if err := exporter.ObserveState(StateCollector(q), cfg.QueueType); err != nil {
		_ = q.Close()
		return nil, err
	}

	c := &Collector{
		Config:   cfg,
		Logger:   logger,
		Queue:    q,
		Sources:  loader,
		Service:  webhook.NewService(loader, q),
		Exporter: exporter,
		Recorder: recorder,
	}
	if cfg.Metrics.Enabled {
		c.Metrics = MetricsServer(cfg.Metrics, exporter)
	}

	for _, s := range loader.List() {
		if s.RequiresSignature() {
			logger.Info("registered webhook source with signature validation",
				zap.String("source", s.Name),
				zap.String("signature_header", s.SignatureHeader),
			)
		} else {
			logger.Info("registered webhook source without signature validation", zap.String("source", s.Name))
		}
	}
	return c, nil
}

// Handler returns the collector HTTP router
func (c *Collector) Handler(ctx context.Context) http.Handler {
	return relaychi.WebhookHandlers(ctx, c.Service, relaychi.Options{
		Logger:      c.Logger,
		Recorder:    c.Recorder,
		HTTPMetrics: metrics.NewHTTPMetrics(c.Exporter.Registry()),
		QueueType:   c.Config.QueueType,
	})
}

// Start flags the collector as up and starts the metrics server until ctx is done
func (c *Collector) Start(ctx context.Context) {
	c.Recorder.SetUp(ctx, "collector", true)
	serveMetrics(ctx, c.Metrics, c.Logger)
}

// Close releases the queue client and flushes metrics
func (c *Collector) Close(ctx context.Context) error {
	c.Recorder.SetUp(ctx, "collector", false)
	return errors.Join(c.Queue.Close(), c.Exporter.Shutdown(ctx))
}
