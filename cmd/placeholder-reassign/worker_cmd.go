package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kai-sub/gitlab/modules/placeholders"
	"github.com/kai-sub/gitlab/pkg/composables"
	"github.com/kai-sub/gitlab/pkg/configuration"
	"github.com/kai-sub/gitlab/pkg/metrics"
	"github.com/kai-sub/gitlab/pkg/worker"
)

func newWorkerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Poll for source users in reassignment and process them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process one batch and exit")
	return cmd
}

func runWorker(parent context.Context, once bool) error {
	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger().WithField("command", "worker")

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := connectDB(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer pool.Close()

	module, err := placeholders.NewModule(conf, logger)
	if err != nil {
		return withCode(exitUsage, err)
	}
	w, err := worker.New(module.SourceUsers, module.Service, worker.NewPgLocker(), worker.Options{
		PollInterval: conf.Worker.PollInterval,
		BatchSize:    conf.Worker.BatchSize,
		Concurrency:  conf.Worker.Concurrency,
		MaxAttempts:  conf.Worker.MaxAttempts,
		MaxBackoff:   conf.Worker.MaxBackoff,
		Logger:       logger,
	})
	if err != nil {
		return withCode(exitUsage, err)
	}

	if conf.Prometheus.Enabled {
		srv := metrics.NewServer(conf.Prometheus.Addr, conf.Prometheus.Path)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	wctx := composables.WithPool(ctx, pool)
	if once {
		if err := w.ProcessOnce(wctx); err != nil {
			return withCode(exitReassign, err)
		}
		return nil
	}

	logger.WithField("models", module.Registry.Names()).Info("worker started")
	err = w.Run(wctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("worker stopped")
		return nil
	}
	return withCode(exitReassign, err)
}
