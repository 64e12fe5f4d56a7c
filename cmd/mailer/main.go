// Package main is the mailer process entrypoint: wires config, logging,
// lifecycle bootstrap, the mode selector, the attempt executor's
// collaborators, the consumer loop, and the health/metrics surface, then
// runs until a termination signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"safe-notify/internal/attachment"
	"safe-notify/internal/config"
	"safe-notify/internal/consumer"
	"safe-notify/internal/deadletter"
	"safe-notify/internal/executor"
	"safe-notify/internal/health"
	"safe-notify/internal/lifecycle"
	"safe-notify/internal/logging"
	"safe-notify/internal/mode"
	"safe-notify/internal/renderer"
	"safe-notify/internal/sidestate"
)

func main() {
	var retrier, debug bool

	root := &cobra.Command{
		Use:   "mailer",
		Short: "Durable email-dispatch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), retrier, debug)
		},
	}
	root.PersistentFlags().BoolVar(&retrier, "retrier", false, "run in retry mode against the retry_queue stream")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose development logging")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, retrier, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	lc, err := lifecycle.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := lc.Shutdown(); err != nil {
			log.Warnw("shutdown error", "error", err)
		}
	}()

	b := mode.Select(retrier)
	if err := lc.EnsureReady(ctx, b.Stream, b.Group); err != nil {
		return fmt.Errorf("ensure stream/group ready: %w", err)
	}

	healthHandler, metrics := health.NewServer(lc)
	healthSrv := &http.Server{Addr: cfg.HealthAddr, Handler: healthHandler}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("health server stopped", "error", err)
		}
	}()
	defer healthSrv.Close() //nolint:errcheck

	state := sidestate.New(lc.CommandRedis, lc.CommandStreamClient)
	reaper := attachment.New(state, lc.Object, cfg.MinIO.Bucket, log)
	deadLtr := deadletter.New(state)
	render := renderer.New()

	exec := executor.New(lc.Forms, render, lc.Sender, state, deadLtr, reaper, log, metrics, executor.Config{
		MaxRetries:        cfg.MailerRetries,
		AttachmentBaseURL: cfg.APIURL,
	})

	loop := consumer.New(lc.StreamClient, exec, state, reaper, deadLtr, log, metrics, consumer.Config{
		BatchSize:     int64(cfg.ConsumerBatchSize),
		BlockInterval: cfg.ConsumerBlock,
		RetryInterval: cfg.RetryInterval,
		MaxInFlight:   cfg.RetryMaxInFlight,
	})

	log.Infow("mailer started", "mode", b.Kind.String(), "stream", b.Stream, "consumer", b.ConsumerName)

	err = loop.Run(ctx, b)
	if ctx.Err() != nil {
		log.Infow("mailer shutting down")
		return nil
	}
	return err
}
