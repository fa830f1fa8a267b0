package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"star-notifier/internal/infra/config"
	applog "star-notifier/internal/infra/log"
	"star-notifier/internal/infra/store"
	"star-notifier/internal/seed"
)

func main() {
	var opts seed.Options
	flag.IntVar(&opts.Users, "users", 20, "number of users to create")
	flag.IntVar(&opts.Posts, "posts", 50, "number of posts to create")
	flag.IntVar(&opts.MaxStars, "max-stars", 5, "maximum stars per post")
	flag.Float64Var(&opts.NoEmailRatio, "no-email", 0.2, "share of users without an email address")
	flag.Int64Var(&opts.Seed, "seed", 0, "random seed, 0 for a random run")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.URL == "" || cfg.Database.URL == "memory://" {
		logger.Fatal().Msg("seed: DATABASE_URL must point at a shared store, memory would be discarded on exit")
	}
	handle, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Namespace, applog.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: unable to open record store")
	}
	defer handle.Close()

	ds := seed.NewFactory(opts).Build()
	if err := seed.Write(ctx, handle.Store, ds); err != nil {
		logger.Fatal().Err(err).Msg("seed: write failed")
	}
	logger.Info().Int("users", len(ds.Users)).Int("posts", len(ds.Posts)).Msg("seed: done")
}
