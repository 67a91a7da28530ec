package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/metrics"
)

// MetricsServer serves the exporter registry on cfg.Path at cfg.Addr()
func MetricsServer(cfg config.MetricsConfig, exporter *metrics.OTelExporter) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, cfg.Path, exporter.Handler())

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveMetrics runs srv until ctx is done; it is a no-op when srv is nil
func serveMetrics(ctx context.Context, srv *http.Server, logger *zap.Logger) {
	if srv == nil {
		return
	}
	go func() {
		logger.Info("metrics server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
