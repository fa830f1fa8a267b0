package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the service configuration.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"prod"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	Database struct {
		URL       string `envconfig:"DATABASE_URL" default:"memory://"`
		Namespace string `envconfig:"DATABASE_NAMESPACE" default:"default"`
	} `envconfig:""`

	Mail struct {
		From           string        `envconfig:"MAIL_FROM" default:"test@example.com"`
		Subject        string        `envconfig:"MAIL_SUBJECT" default:"New post!"`
		Timeout        time.Duration `envconfig:"MAIL_TIMEOUT" default:"10s"`
		MailgunAPIKey  string        `envconfig:"MAILGUN_API_KEY"`
		MailgunDomain  string        `envconfig:"MAILGUN_DOMAIN"`
		MailgunBaseURL string        `envconfig:"MAILGUN_BASE_URL" default:"https://api.mailgun.net"`
		SMTPHost       string        `envconfig:"SMTP_HOST"`
		SMTPPort       int           `envconfig:"SMTP_PORT" default:"587"`
		SMTPUsername   string        `envconfig:"SMTP_USERNAME"`
		SMTPPassword   string        `envconfig:"SMTP_PASSWORD"`
	} `envconfig:""`

	Router struct {
		NotifyExistingStars bool `envconfig:"NOTIFY_EXISTING_STARS" default:"true"`
	} `envconfig:""`

	Digest struct {
		Enabled    bool     `envconfig:"DIGEST_ENABLED" default:"true"`
		Weekday    string   `envconfig:"DIGEST_WEEKDAY" default:"sunday"`
		At         string   `envconfig:"DIGEST_AT" default:"09:00"`
		TZ         string   `envconfig:"DIGEST_TZ" default:"UTC"`
		Top        int      `envconfig:"DIGEST_TOP" default:"10"`
		Recipients []string `envconfig:"DIGEST_RECIPIENTS"`
	} `envconfig:""`

	Queues struct {
		URL    string `envconfig:"QUEUE_URL"`
		Digest string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
	} `envconfig:""`
}

// Parse reads the configuration from the environment.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}

// Load reads the configuration and exits on error.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("unable to load config: %v", err)
	}
	return cfg
}
