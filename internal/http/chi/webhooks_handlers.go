package chi

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/metrics"
	"github.com/marcelsud/webhook-relay/webhook"
)

// Options carries the collaborators of the collector HTTP surface
// Zero values are replaced with no-op implementations
type Options struct {
	Logger      *zap.Logger
	Recorder    *metrics.Recorder
	HTTPMetrics *metrics.HTTPMetrics
	QueueType   string
}

// WebhookHandlers sets up the collector routes
func WebhookHandlers(ctx context.Context, svc webhook.UseCase, opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NopRecorder()
	}

	logger := httplog.NewLogger("webhook-relay-collector", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Wrap)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/health", getHealth().ServeHTTP)
		r.Post("/{source}", postWebhook(svc, opts).ServeHTTP)
	})

	return r
}
