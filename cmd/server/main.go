package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"star-notifier/internal/app"
	"star-notifier/internal/infra/config"
	httpinfra "star-notifier/internal/infra/http"
	applog "star-notifier/internal/infra/log"
	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/infra/store"
	"star-notifier/internal/usecase/notify"
	"star-notifier/internal/usecase/router"
	"star-notifier/internal/usecase/stars"
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

	handle, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Namespace, applog.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("server: unable to open record store")
	}
	defer handle.Close()

	transport := app.Transport(cfg, logger)
	reconciler := stars.NewReconciler(handle.Store, applog.Component(logger, "stars"))
	notifier := notify.NewService(handle.Store, transport, notify.Config{
		From:    cfg.Mail.From,
		Subject: cfg.Mail.Subject,
		Timeout: cfg.Mail.Timeout,
	}, applog.Component(logger, "notify"))

	eventRouter := router.New(handle.Store, reconciler, notifier, router.Options{
		NotifyExistingStars: cfg.Router.NotifyExistingStars,
	}, applog.Component(logger, "router"))
	// A failed attach is logged by the router; the front door keeps serving.
	_ = eventRouter.Start(ctx)
	defer eventRouter.Stop()

	if cfg.Digest.Enabled {
		trigger, closeQueue, err := app.DigestTrigger(cfg, handle, transport, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("server: unable to configure digest")
		}
		defer closeQueue()
		go func() {
			if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("server: digest trigger stopped")
			}
		}()
	}

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("server: http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server: graceful shutdown failed")
	}
}
