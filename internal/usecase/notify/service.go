package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
	"star-notifier/internal/rtdb"
)

const (
	DefaultFrom    = "test@example.com"
	DefaultSubject = "New post!"
	DefaultText    = "This is a notification from your star notifier. One of your posts received a new star."
)

// Config describes the fixed notification template and the delivery deadline.
type Config struct {
	From    string
	Subject string
	Text    string
	Timeout time.Duration
}

// Service emails post authors about new stars.
type Service struct {
	store     domain.Store
	transport domain.NotificationTransport
	cfg       Config
	log       zerolog.Logger
}

var _ domain.Notifier = (*Service)(nil)

// NewService creates the notification sender.
func NewService(store domain.Store, transport domain.NotificationTransport, cfg Config, logger zerolog.Logger) *Service {
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Text == "" {
		cfg.Text = DefaultText
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{store: store, transport: transport, cfg: cfg, log: logger}
}

// Notify makes one delivery attempt. On success it stamps lastNotificationTimestamp
// on both copies of the post with the store clock; on failure nothing is written.
func (s *Service) Notify(ctx context.Context, authorID, postID string) domain.NotifyOutcome {
	outcome := s.notify(ctx, authorID, postID)
	metrics.IncNotification(string(outcome))
	return outcome
}

func (s *Service) notify(ctx context.Context, authorID, postID string) domain.NotifyOutcome {
	log := s.log.With().Str("uid", authorID).Str("post", postID).Logger()

	snap, err := s.store.Get(ctx, domain.UserPath(authorID))
	if err != nil {
		log.Error().Err(err).Msg("notify: unable to get user data")
		return domain.NotifyLookupFailed
	}
	var user domain.User
	if err := snap.Decode(&user); err != nil {
		log.Error().Err(err).Msg("notify: unable to decode user data")
		return domain.NotifyLookupFailed
	}
	if !user.HasEmail() {
		return domain.NotifyNoRecipient
	}

	msg := domain.Message{From: s.cfg.From, To: *user.Email, Subject: s.cfg.Subject, Text: s.cfg.Text}
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	err = s.transport.Send(sendCtx, msg)
	cancel()
	if errors.Is(err, domain.ErrTransportDisabled) {
		return domain.NotifyDisabled
	}
	if err != nil {
		log.Error().Err(err).Str("transport", s.transport.Name()).Msg("notify: unable to send email")
		return domain.NotifyFailed
	}
	log.Info().Str("transport", s.transport.Name()).Msg("notify: email sent")

	stamp := map[string]any{
		rtdb.Join(domain.PostPath(postID), domain.LastNotificationField):               rtdb.ServerTimestamp,
		rtdb.Join(domain.UserPostPath(authorID, postID), domain.LastNotificationField): rtdb.ServerTimestamp,
	}
	if err := s.store.Update(ctx, stamp); err != nil {
		log.Error().Err(err).Msg("notify: unable to save last notification time")
	}
	return domain.NotifySent
}
