// Package messagebird sends SMS through the MessageBird REST API.
package messagebird

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

const Name = "messagebird"

type Sender struct {
	client     *http.Client
	baseURL    string
	accessKey  string
	originator string
}

// New builds the adapter. A nil client uses provider.NewHTTPClient.
func New(cfg config.MessageBirdConfig, client *http.Client) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = provider.NewHTTPClient()
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://rest.messagebird.com"
	}
	return &Sender{
		client:     client,
		baseURL:    strings.TrimRight(base, "/"),
		accessKey:  cfg.AccessKey,
		originator: cfg.Originator,
	}, nil
}

func (s *Sender) Name() string { return Name }

func (s *Sender) PhoneFormat() phone.Format { return phone.Bare }

type messageRequest struct {
	Originator string   `json:"originator"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
	Datacoding string   `json:"datacoding,omitempty"`
}

type messageResponse struct {
	ID     string `json:"id"`
	Errors []struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
		Parameter   string `json:"parameter"`
	} `json:"errors"`
}

func (s *Sender) Send(ctx context.Context, msg provider.Message) provider.Result {
	body := msg.Body
	if msg.MediaURL != "" {
		// SMS has no attachments; the link travels in the text.
		body = body + "\n" + msg.MediaURL
	}
	payload, err := json.Marshal(messageRequest{
		Originator: s.originator,
		Recipients: []string{msg.To},
		Body:       body,
		Datacoding: "auto",
	})
	if err != nil {
		return provider.Failed("messagebird: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return provider.Failed("messagebird: %v", err)
	}
	req.Header.Set("Authorization", "AccessKey "+s.accessKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return provider.FromTransportError(Name, err)
	}
	defer resp.Body.Close()
	raw := provider.ReadBody(resp)

	var out messageResponse
	parseErr := provider.DecodeJSON(Name, raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		vendorMsg := ""
		if parseErr == nil && len(out.Errors) > 0 {
			vendorMsg = out.Errors[0].Description
		}
		return provider.FromHTTPStatus(Name, resp.StatusCode, vendorMsg, raw)
	}
	if parseErr != nil {
		return provider.Failed("%v", parseErr)
	}
	return provider.Succeeded(out.ID)
}
