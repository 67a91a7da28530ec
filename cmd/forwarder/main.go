package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/internal/app"
	"github.com/marcelsud/webhook-relay/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webhook-relay-forwarder",
		Short: "Pulls webhooks from a queue and delivers them to a target URL",
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Start forwarding queued webhooks",
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
	cfg, err := config.LoadForwarder(configPath)
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

	f, err := app.NewForwarder(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start forwarder", zap.Error(err))
		return err
	}
	defer func() {
		if err := f.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("closing forwarder", zap.Error(err))
		}
	}()

	// Run returns once ctx is cancelled and the message in flight is settled
	return f.Run(ctx)
}
