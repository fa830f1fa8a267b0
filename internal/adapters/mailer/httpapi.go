package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"star-notifier/internal/domain"
	"star-notifier/internal/infra/metrics"
)

const defaultBaseURL = "https://api.mailgun.net"

// HTTPAPI sends mail through a transactional email provider's HTTP API.
// Requests are form encoded; responses are JSON.
type HTTPAPI struct {
	http    *http.Client
	baseURL string
	domain  string
	apiKey  string
}

var _ domain.NotificationTransport = (*HTTPAPI)(nil)

// NewHTTPAPI creates an API transport. An empty baseURL selects the public endpoint.
func NewHTTPAPI(apiKey, sendingDomain, baseURL string, timeout time.Duration) *HTTPAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAPI{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		domain:  sendingDomain,
		apiKey:  apiKey,
	}
}

func (c *HTTPAPI) Name() string { return "http_api" }

func sendForm(msg domain.Message) url.Values {
	return url.Values{
		"from":    {msg.From},
		"to":      {msg.To},
		"subject": {msg.Subject},
		"text":    {msg.Text},
	}
}

// Send posts the message to {base}/v3/{domain}/messages.
func (c *HTTPAPI) Send(ctx context.Context, msg domain.Message) error {
	if c.apiKey == "" {
		return errors.New("mailer: api key is empty")
	}
	if c.domain == "" {
		return errors.New("mailer: sending domain is empty")
	}
	endpoint := fmt.Sprintf("%s/v3/%s/messages", c.baseURL, url.PathEscape(c.domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(sendForm(msg).Encode()))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("mailer", "send", c.Name(), start, err)
		return fmt.Errorf("mailer: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr apiErrorResponse
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Message != "" {
			err = fmt.Errorf("mailer: status %d: %s", resp.StatusCode, apiErr.Message)
		} else {
			err = fmt.Errorf("mailer: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		metrics.ObserveNetworkRequest("mailer", "send", c.Name(), start, err)
		return err
	}
	metrics.ObserveNetworkRequest("mailer", "send", c.Name(), start, nil)
	return nil
}

type apiErrorResponse struct {
	Message string `json:"message"`
}
