// Package slack posts operator alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/leandrotocalini/wagateway/internal/dedup"
)

const (
	defaultUsername  = "wagateway"
	defaultIconEmoji = ":iphone:"
	defaultWindow    = 10 * time.Minute
)

// Identity is how alerts appear in the channel.
type Identity struct {
	Username  string
	IconEmoji string
}

// Alerter sends at most one alert per account within the dedup window.
type Alerter struct {
	webhookURL string
	httpClient *http.Client
	identity   Identity
	logger     *slog.Logger
	window     time.Duration
	now        func() time.Time
	seen       *dedup.Set
}

// Option configures the Alerter.
type Option func(*Alerter)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Alerter) {
		a.logger = l
	}
}

// WithHTTPClient sets the HTTP client used for webhook calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Alerter) {
		a.httpClient = c
	}
}

// WithIdentity overrides the username and icon.
func WithIdentity(id Identity) Option {
	return func(a *Alerter) {
		if id.Username != "" {
			a.identity.Username = id.Username
		}
		if id.IconEmoji != "" {
			a.identity.IconEmoji = id.IconEmoji
		}
	}
}

// WithWindow sets how long repeated alerts for one account are suppressed.
func WithWindow(d time.Duration) Option {
	return func(a *Alerter) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithClock sets a custom time function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(a *Alerter) {
		a.now = fn
	}
}

// NewAlerter creates an alerter posting to webhookURL.
func NewAlerter(webhookURL string, opts ...Option) *Alerter {
	a := &Alerter{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		identity:   Identity{Username: defaultUsername, IconEmoji: defaultIconEmoji},
		logger:     slog.Default(),
		window:     defaultWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.seen = dedup.New(dedup.WithTTL(a.window), dedup.WithClock(a.now), dedup.WithMaxEntries(1000))
	return a
}

// Alert posts text for account unless one was posted within the window.
// A failed post is forgotten so the next attempt goes through.
func (a *Alerter) Alert(ctx context.Context, account, text string) error {
	if !a.seen.First(account) {
		a.logger.Debug("alert suppressed", "account", account)
		return nil
	}

	msg := &slack.WebhookMessage{
		Username:  a.identity.Username,
		IconEmoji: a.identity.IconEmoji,
		Text:      fmt.Sprintf("[%s] %s", account, text),
		Blocks:    &slack.Blocks{BlockSet: buildBlocks(account, text, a.now())},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, a.webhookURL, a.httpClient, msg); err != nil {
		a.seen.Forget(account)
		return fmt.Errorf("post alert: %w", err)
	}
	a.logger.Info("alert posted", "account", account)
	return nil
}

func buildBlocks(account, text string, at time.Time) []slack.Block {
	header := slack.NewTextBlockObject("mrkdwn", "*WhatsApp account `"+account+"`*", false, false)
	body := slack.NewTextBlockObject("mrkdwn", text, false, false)
	when := slack.NewTextBlockObject("mrkdwn", at.UTC().Format(time.RFC3339), false, false)
	return []slack.Block{
		slack.NewSectionBlock(header, nil, nil),
		slack.NewSectionBlock(body, nil, nil),
		slack.NewContextBlock("", when),
	}
}
