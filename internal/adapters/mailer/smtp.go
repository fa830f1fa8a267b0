package mailer

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

// SMTP sends mail over an authenticated STARTTLS session.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

var _ domain.NotificationTransport = (*SMTP)(nil)

// NewSMTP creates an SMTP transport.
func NewSMTP(host string, port int, username, password string, timeout time.Duration) *SMTP {
	if port == 0 {
		port = 587
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTP{host: host, port: port, username: username, password: password, timeout: timeout}
}

func (s *SMTP) Name() string { return "smtp" }

// Send opens a session, sends msg and closes the session.
func (s *SMTP) Send(ctx context.Context, msg domain.Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}
	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(s.timeout),
	}
	if s.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.username),
			mail.WithPassword(s.password),
		)
	}
	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp: create client: %w", err)
	}

	start := time.Now()
	err = client.DialAndSendWithContext(ctx, m)
	metrics.ObserveNetworkRequest("mailer", "send", s.Name(), start, err)
	if err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func buildMessage(msg domain.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("smtp: from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp: to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	return m, nil
}
