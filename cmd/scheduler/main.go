package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"star-notifier/internal/app"
	"star-notifier/internal/domain"
	"star-notifier/internal/infra/config"
	applog "star-notifier/internal/infra/log"
	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/infra/store"
)

// The scheduler runs the weekly digest trigger on its own, for deployments
// that start the server with DIGEST_ENABLED=false.
func main() {
	now := flag.Bool("now", false, "fire a manual digest for the current week and exit")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Namespace, applog.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: unable to open record store")
	}
	defer handle.Close()

	trigger, closeQueue, err := app.DigestTrigger(cfg, handle, app.Transport(cfg, logger), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: unable to configure digest")
	}
	defer closeQueue()

	if *now {
		job, _, err := trigger.Fire(ctx, time.Now(), domain.DigestCauseManual)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: manual digest failed")
		}
		logger.Info().Str("job", job.ID).Str("week", job.Week).Msg("scheduler: manual digest dispatched")
		return
	}

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	}
	if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: trigger stopped")
	}
}
