package main

import (
	"context"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"star-notifier/internal/app"
	"star-notifier/internal/infra/config"
	applog "star-notifier/internal/infra/log"
	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/infra/store"
	"star-notifier/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	}

	if cfg.Queues.URL == "" {
		logger.Fatal().Msg("digest-worker: queue address is not set (QUEUE_URL)")
	}
	q, closeQueue, err := app.DigestQueue(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("digest-worker: unable to open queue")
	}
	defer closeQueue()

	handle, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Namespace, applog.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("digest-worker: unable to open record store")
	}
	defer handle.Close()

	transport := app.Transport(cfg, logger)
	statuses := app.JobStatus(cfg, handle)
	runner := app.DigestRunner(cfg, handle, transport, statuses, logger)
	worker := digest.NewWorker(q, statuses, runner, applog.Component(logger, "digest-worker"))

	logger.Info().Msg("digest-worker: consuming queue")
	worker.Run(ctx)
	logger.Info().Msg("digest-worker: stopped")
}
