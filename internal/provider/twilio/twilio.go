// Package twilio sends SMS and WhatsApp messages through Twilio's Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	twilio "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

const (
	NameSMS      = "twilio"
	NameWhatsApp = "twilio-whatsapp"

	whatsappPrefix = "whatsapp:"
)

// Twilio error codes raised by Content API template problems.
var templateErrorCodes = map[int]bool{
	21656: true, // ContentVariables invalid
	63027: true, // template does not exist for the language
	63028: true, // parameter count mismatch
}

// messageCreator is the slice of the Twilio API this adapter calls.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Sender is a Twilio adapter bound to one channel.
type Sender struct {
	api            messageCreator
	name           string
	from           string
	whatsapp       bool
	statusCallback string
}

// NewSMS builds the SMS adapter.
func NewSMS(cfg config.TwilioConfig, statusCallback string) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("twilio: from_number is required for sms")
	}
	return &Sender{
		api:            newAPI(cfg),
		name:           NameSMS,
		from:           cfg.FromNumber,
		statusCallback: statusCallback,
	}, nil
}

// NewWhatsApp builds the WhatsApp adapter.
func NewWhatsApp(cfg config.TwilioConfig, statusCallback string) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WhatsAppFrom == "" {
		return nil, errors.New("twilio: whatsapp_from is required for whatsapp")
	}
	return &Sender{
		api:            newAPI(cfg),
		name:           NameWhatsApp,
		from:           whatsappPrefix + cfg.WhatsAppFrom,
		whatsapp:       true,
		statusCallback: statusCallback,
	}, nil
}

func newAPI(cfg config.TwilioConfig) messageCreator {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return client.Api
}

func (s *Sender) Name() string { return s.name }

func (s *Sender) PhoneFormat() phone.Format { return phone.Plus }

func (s *Sender) Send(ctx context.Context, msg provider.Message) provider.Result {
	if err := ctx.Err(); err != nil {
		return provider.Failed("twilio: %v", err)
	}

	params := &openapi.CreateMessageParams{}
	to := msg.To
	if s.whatsapp {
		to = whatsappPrefix + to
	}
	params.SetTo(to)
	params.SetFrom(s.from)

	if msg.TemplateName != "" {
		params.SetContentSid(msg.TemplateName)
		if len(msg.TemplateArgs) > 0 {
			vars, err := contentVariables(msg.TemplateArgs)
			if err != nil {
				return provider.Failed("twilio: %v", err)
			}
			params.SetContentVariables(vars)
		}
	} else {
		params.SetBody(msg.Body)
		if msg.MediaURL != "" {
			params.SetMediaUrl([]string{msg.MediaURL})
		}
	}
	if s.statusCallback != "" {
		params.SetStatusCallback(s.statusCallback)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fromError(err)
	}
	if resp == nil || resp.Sid == nil {
		return provider.Failed("twilio: response without message sid")
	}
	return provider.Succeeded(*resp.Sid)
}

// contentVariables renders template args as Twilio's {"1": "...", "2": "..."} map.
func contentVariables(args []string) (string, error) {
	vars := make(map[string]string, len(args))
	for i, a := range args {
		vars[strconv.Itoa(i+1)] = a
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromError(err error) provider.Result {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return provider.FromTransportError("twilio", err)
	}
	res := provider.Result{
		Error:     "twilio error " + strconv.Itoa(restErr.Code) + ": " + restErr.Message,
		Retryable: provider.StatusRetryable(restErr.Status),
	}
	if templateErrorCodes[restErr.Code] {
		res.TemplateRejected = true
		res.Retryable = false
	}
	return res
}
