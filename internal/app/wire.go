// Package app assembles components shared by the binaries from configuration.
package app

import (
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/adapters/mailer"
	"star-notifier/internal/domain"
	"star-notifier/internal/infra/cache"
	"star-notifier/internal/infra/config"
	applog "star-notifier/internal/infra/log"
	"star-notifier/internal/infra/queue"
	"star-notifier/internal/infra/store"
	"star-notifier/internal/usecase/digest"
)

// Transport selects the email transport.
func Transport(cfg config.AppConfig, logger zerolog.Logger) domain.NotificationTransport {
	return mailer.Select(mailer.Settings{
		APIKey:       cfg.Mail.MailgunAPIKey,
		Domain:       cfg.Mail.MailgunDomain,
		BaseURL:      cfg.Mail.MailgunBaseURL,
		SMTPHost:     cfg.Mail.SMTPHost,
		SMTPPort:     cfg.Mail.SMTPPort,
		SMTPUsername: cfg.Mail.SMTPUsername,
		SMTPPassword: cfg.Mail.SMTPPassword,
		Timeout:      cfg.Mail.Timeout,
	}, applog.Component(logger, "mailer"))
}

// DigestRunner builds the top posts runner. Recipients already reached are
// recorded in statuses so a redelivered job only resends to the rest.
func DigestRunner(cfg config.AppConfig, handle *store.Handle, transport domain.NotificationTransport, statuses domain.DigestJobStatus, logger zerolog.Logger) *digest.TopPosts {
	return digest.NewTopPosts(handle.Store, transport, digest.TopPostsConfig{
		Top:        cfg.Digest.Top,
		From:       cfg.Mail.From,
		Recipients: cfg.Digest.Recipients,
		Timeout:    cfg.Mail.Timeout,
	}, applog.Component(logger, "digest")).TrackRecipients(statuses)
}

// keyPrefix namespaces Redis keys shared with the record store.
func keyPrefix(cfg config.AppConfig) string {
	return "star-notifier:" + cfg.Database.Namespace + ":"
}

// Lock returns the once-per-week lock: Redis when the store runs on Redis,
// otherwise in process.
func Lock(cfg config.AppConfig, handle *store.Handle) domain.Cache {
	if handle.Redis != nil {
		return cache.NewRedis(handle.Redis, keyPrefix(cfg))
	}
	return cache.NewMemory()
}

// JobStatus returns the digest attempt tracker, shared through Redis when available.
func JobStatus(cfg config.AppConfig, handle *store.Handle) domain.DigestJobStatus {
	if handle.Redis != nil {
		return cache.NewRedisJobStatus(handle.Redis, keyPrefix(cfg)+"digest:", 14*24*time.Hour)
	}
	return cache.NewMemoryJobStatus()
}

// DigestQueue opens the configured queue. It returns nil, and a no-op close,
// when none is configured.
func DigestQueue(cfg config.AppConfig) (domain.DigestQueue, func(), error) {
	q, err := queue.Open(cfg.Queues.URL, cfg.Queues.Digest)
	if err != nil {
		return nil, func() {}, err
	}
	if q == nil {
		return nil, func() {}, nil
	}
	return q, func() { _ = q.Close() }, nil
}

// DigestTrigger wires the weekly trigger with its lock, queue and in-process runner.
func DigestTrigger(cfg config.AppConfig, handle *store.Handle, transport domain.NotificationTransport, logger zerolog.Logger) (*digest.Trigger, func(), error) {
	schedule, err := digest.ParseSchedule(cfg.Digest.Weekday, cfg.Digest.At, cfg.Digest.TZ)
	if err != nil {
		return nil, func() {}, err
	}
	q, closeQueue, err := DigestQueue(cfg)
	if err != nil {
		return nil, func() {}, err
	}
	runner := DigestRunner(cfg, handle, transport, JobStatus(cfg, handle), logger)
	return digest.NewTrigger(schedule, Lock(cfg, handle), q, runner, applog.Component(logger, "digest")), closeQueue, nil
}
