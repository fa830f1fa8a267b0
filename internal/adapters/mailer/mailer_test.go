package mailer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"star-notifier/internal/domain"
)

var testMessage = domain.Message{
	From:    "test@example.com",
	To:      "author@example.com",
	Subject: "New post!",
	Text:    "body with 'quotes' and \"double quotes\"",
}

func TestHTTPAPISendsFormFields(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/mg.example.com/messages", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-123", pass)
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"<1@mg>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	c := NewHTTPAPI("key-123", "mg.example.com", srv.URL+"/", time.Second)
	require.NoError(t, c.Send(context.Background(), testMessage))
	assert.Equal(t, url.Values{
		"from":    {testMessage.From},
		"to":      {testMessage.To},
		"subject": {testMessage.Subject},
		"text":    {testMessage.Text},
	}, got)
}

func TestHTTPAPIReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid private key"}`))
	}))
	defer srv.Close()

	c := NewHTTPAPI("bad", "mg.example.com", srv.URL, time.Second)
	err := c.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid private key")
}

func TestHTTPAPIHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPAPI("key", "mg.example.com", srv.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, testMessage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPAPIRequiresCredentials(t *testing.T) {
	assert.Error(t, NewHTTPAPI("", "mg.example.com", "", 0).Send(context.Background(), testMessage))
	assert.Error(t, NewHTTPAPI("key", "", "", 0).Send(context.Background(), testMessage))
}

func TestBuildMessageRejectsBadAddress(t *testing.T) {
	_, err := buildMessage(domain.Message{From: "not an address", To: "a@example.com"})
	assert.Error(t, err)

	m, err := buildMessage(testMessage)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestSMTPDialFailure(t *testing.T) {
	s := NewSMTP("127.0.0.1", 1, "user", "pass", 200*time.Millisecond)
	assert.Equal(t, "smtp", s.Name())
	assert.Error(t, s.Send(context.Background(), testMessage))
}

func TestLogOnlyReportsDisabled(t *testing.T) {
	err := NewLogOnly(zerolog.Nop()).Send(context.Background(), testMessage)
	assert.True(t, errors.Is(err, domain.ErrTransportDisabled))
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     string
	}{
		{name: "api key wins", settings: Settings{APIKey: "k", Domain: "d", SMTPHost: "smtp.example.com"}, want: "http_api"},
		{name: "smtp", settings: Settings{SMTPHost: "smtp.example.com", SMTPPort: 587}, want: "smtp"},
		{name: "nothing configured", settings: Settings{}, want: "log_only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.settings, zerolog.Nop()).Name())
		})
	}
}
