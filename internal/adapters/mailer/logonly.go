package mailer

import (
	"context"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
)

// LogOnly records messages instead of sending them.
type LogOnly struct {
	log zerolog.Logger
}

var _ domain.NotificationTransport = (*LogOnly)(nil)

// NewLogOnly creates a transport that only logs.
func NewLogOnly(logger zerolog.Logger) *LogOnly {
	return &LogOnly{log: logger}
}

func (l *LogOnly) Name() string { return "log_only" }

// Send logs msg and reports domain.ErrTransportDisabled so nothing is marked as delivered.
func (l *LogOnly) Send(_ context.Context, msg domain.Message) error {
	l.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("mailer: no transport configured, message not sent")
	return domain.ErrTransportDisabled
}
