package mailer

import (
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
)

// Settings holds the credentials of every supported transport.
type Settings struct {
	APIKey  string
	Domain  string
	BaseURL string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	Timeout time.Duration
}

// Select picks the transport once at startup: the HTTP API when an API key is
// present, SMTP when a host is present, otherwise LogOnly.
func Select(s Settings, logger zerolog.Logger) domain.NotificationTransport {
	switch {
	case s.APIKey != "":
		logger.Info().Str("transport", "http_api").Str("domain", s.Domain).Msg("mailer: transport selected")
		return NewHTTPAPI(s.APIKey, s.Domain, s.BaseURL, s.Timeout)
	case s.SMTPHost != "":
		logger.Info().Str("transport", "smtp").Str("host", s.SMTPHost).Int("port", s.SMTPPort).Msg("mailer: transport selected")
		return NewSMTP(s.SMTPHost, s.SMTPPort, s.SMTPUsername, s.SMTPPassword, s.Timeout)
	default:
		logger.Warn().Msg("mailer: no email provider configured, notifications will only be logged")
		return NewLogOnly(logger)
	}
}
