// Package webpush notifies guests who subscribed to invitation updates in
// their browser.
package webpush

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

const (
	Name = "webpush"

	defaultTTL = 24 * 60 * 60
)

type Sender struct {
	opts webpush.Options
}

// New builds the adapter. A nil client uses provider.NewHTTPClient.
func New(cfg config.WebPushConfig, client *http.Client) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = provider.NewHTTPClient()
	}
	return &Sender{opts: webpush.Options{
		Subscriber:      cfg.Subscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             defaultTTL,
		Urgency:         webpush.UrgencyNormal,
		HTTPClient:      client,
	}}, nil
}

func (s *Sender) Name() string { return Name }

// PhoneFormat is unused: push recipients skip phone normalization.
func (s *Sender) PhoneFormat() phone.Format { return phone.Plus }

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Send expects msg.To to hold the browser's JSON PushSubscription.
func (s *Sender) Send(ctx context.Context, msg provider.Message) provider.Result {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(msg.To), &sub); err != nil || sub.Endpoint == "" {
		return provider.Failed("push: invalid subscription")
	}

	title := msg.Subject
	if title == "" {
		title = "Wedding invitation"
	}
	payload, err := json.Marshal(notification{Title: title, Body: msg.Body, URL: msg.MediaURL})
	if err != nil {
		return provider.Failed("push: %v", err)
	}

	opts := s.opts
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &opts)
	if err != nil {
		return provider.FromTransportError(Name, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return provider.Succeeded(resp.Header.Get("Location"))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return provider.Failed("push: subscription expired (%d)", resp.StatusCode)
	default:
		return provider.FromHTTPStatus(Name, resp.StatusCode, "", raw)
	}
}
