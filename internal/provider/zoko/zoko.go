// Package zoko sends WhatsApp Business messages through the Zoko API.
package zoko

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

const Name = "zoko"

type Sender struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	language string
}

// New builds the adapter. A nil client uses provider.NewHTTPClient.
func New(cfg config.ZokoConfig, client *http.Client) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = provider.NewHTTPClient()
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://chat.zoko.io"
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	return &Sender{
		client:   client,
		baseURL:  strings.TrimRight(base, "/"),
		apiKey:   cfg.APIKey,
		language: lang,
	}, nil
}

func (s *Sender) Name() string { return Name }

func (s *Sender) PhoneFormat() phone.Format { return phone.Bare }

type messageRequest struct {
	Channel          string   `json:"channel"`
	Recipient        string   `json:"recipient"`
	Type             string   `json:"type"`
	Message          string   `json:"message,omitempty"`
	URL              string   `json:"url,omitempty"`
	Caption          string   `json:"caption,omitempty"`
	TemplateID       string   `json:"templateId,omitempty"`
	TemplateLanguage string   `json:"templateLanguage,omitempty"`
	TemplateArgs     []string `json:"templateArgs,omitempty"`
}

type messageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func (s *Sender) buildRequest(msg provider.Message) messageRequest {
	req := messageRequest{Channel: "whatsapp", Recipient: msg.To}
	switch {
	case msg.TemplateName != "":
		req.Type = "template"
		if msg.MediaURL != "" {
			req.Type = "richTemplate"
			req.URL = msg.MediaURL
		}
		req.TemplateID = msg.TemplateName
		req.TemplateLanguage = s.language
		req.TemplateArgs = msg.TemplateArgs
	case msg.MediaURL != "":
		req.Type = mediaType(msg.MediaType)
		req.URL = msg.MediaURL
		req.Caption = msg.Body
	default:
		req.Type = "text"
		req.Message = msg.Body
	}
	return req
}

func mediaType(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image"):
		return "image"
	case strings.HasPrefix(mime, "video"):
		return "video"
	default:
		return "document"
	}
}

func (s *Sender) Send(ctx context.Context, msg provider.Message) provider.Result {
	payload, err := json.Marshal(s.buildRequest(msg))
	if err != nil {
		return provider.Failed("zoko: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/message", bytes.NewReader(payload))
	if err != nil {
		return provider.Failed("zoko: %v", err)
	}
	req.Header.Set("apikey", s.apiKey)
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
		if parseErr == nil {
			vendorMsg = firstNonEmpty(out.Error, out.Message)
		}
		res := provider.FromHTTPStatus(Name, resp.StatusCode, vendorMsg, raw)
		if msg.TemplateName != "" && isTemplateError(resp.StatusCode, vendorMsg, raw) {
			res.TemplateRejected = true
			res.Retryable = false
		}
		return res
	}
	if parseErr != nil {
		return provider.Failed("%v", parseErr)
	}
	return provider.Succeeded(out.MessageID)
}

// isTemplateError recognises Zoko's rejections of unknown, unapproved or
// mis-parameterised templates.
func isTemplateError(status int, vendorMsg string, raw []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusNotFound && status != http.StatusUnprocessableEntity {
		return false
	}
	text := strings.ToLower(vendorMsg + " " + string(raw))
	return strings.Contains(text, "template")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
