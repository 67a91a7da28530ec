package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/internal/app"
	"github.com/marcelsud/webhook-relay/internal/logger"
)

const TIMEOUT = 30 * time.Second

/*
 * main.go is where every other package gets wired together: configuration, queue, HTTP surface.
 * Imports only go one way, down: the binary imports the service layer, which imports the queue backends.
 */

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webhook-relay-collector",
		Short: "Receives webhooks over HTTP and publishes them to a queue",
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Start the collector HTTP server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	_ = serveCmd.MarkFlagRequired("config")

	root.AddCommand(serveCmd)
	return root
}

func serve(configPath string) error {
	cfg, err := config.LoadCollector(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	c, err := app.NewCollector(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start collector", zap.Error(err))
		return err
	}
	defer func() {
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("closing collector", zap.Error(err))
		}
	}()
	c.Start(ctx)

	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         cfg.Addr(),
		Handler:      c.Handler(ctx),
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	log.Info("webhook relay collector listening",
		zap.String("addr", cfg.Addr()),
		zap.String("queue_type", cfg.QueueType),
	)
	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("collector server failed", zap.Error(err))
		return err
	}
	err = <-errShutdown
	if err != nil {
		log.Error("collector shutdown failed", zap.Error(err))
		return err
	}
	log.Info("webhook relay collector stopped")
	return nil
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch {
	case err == nil:
		errShutdown <- nil
	case errors.Is(err, context.DeadlineExceeded):
		errShutdown <- fmt.Errorf("forcing closing the server: %w", err)
	default:
		errShutdown <- fmt.Errorf("shutting down server: %w", err)
	}
}
