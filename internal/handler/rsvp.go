package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

// Responder applies an RSVP answer to the guest invited at a phone number.
type Responder interface {
	RespondByPhone(ctx context.Context, phoneNumber string, status models.GuestStatus, source string) (*models.Guest, error)
}

type RSVPHandler struct {
	guests     Responder
	providers  *provider.Registry
	normalizer *phone.Normalizer
	wedding    config.WeddingConfig
	log        zerolog.Logger
}

// Reply is the outcome of handling one inbound message
type Reply struct {
	Matched  bool               `json:"matched"`
	Status   models.GuestStatus `json:"status,omitempty"`
	Guest    *models.Guest      `json:"guest,omitempty"`
	Response string             `json:"response,omitempty"`
	Sent     bool               `json:"sent"`
}

// NewRSVPHandler creates a new RSVP handler
func NewRSVPHandler(guests Responder, providers *provider.Registry, normalizer *phone.Normalizer, wedding config.WeddingConfig, log zerolog.Logger) *RSVPHandler {
	return &RSVPHandler{
		guests:     guests,
		providers:  providers,
		normalizer: normalizer,
		wedding:    wedding,
		log:        log.With().Str("component", "rsvp").Logger(),
	}
}

var (
	declinePhrases = []string{
		"not coming", "can't come", "cannot come", "won't come", "can't make it",
		"not attending", "not be there", "won't be there", "won't be able", "unable to",
		"لن أحضر", "لن احضر", "لا أستطيع", "لا استطيع", "❌",
	}
	// negators turn a following accept word into a decline ("won't be coming").
	negators     = []string{"not", "won't", "wont", "cannot", "can't", "cant", "unable", "never", "لن"}
	declineWords = []string{"no", "nope", "decline", "declining", "sorry", "لا", "اعتذر", "أعتذر", "آسف", "اسف"}

	acceptPhrases = []string{"will come", "will be there", "see you", "إن شاء الله", "ان شاء الله", "✅"}
	acceptWords   = []string{
		"yes", "yep", "yeah", "accept", "accepting", "attending", "coming", "confirm", "confirmed",
		"نعم", "أكيد", "اكيد", "موافق", "سأحضر", "حاضر", "تم",
	}
)

// Classify maps a free-text reply to an RSVP answer. Declines are checked
// first, so "not coming" is never read as "coming".
func Classify(text string) (models.GuestStatus, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.ReplaceAll(text, "’", "'")
	if text == "" {
		return "", false
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	switch {
	case containsAny(text, declinePhrases...), negatedAccept(words):
		return models.GuestApologized, true
	case containsAny(text, acceptPhrases...), hasWord(words, acceptWords...):
		return models.GuestConfirmed, true
	case hasWord(words, declineWords...):
		return models.GuestApologized, true
	}
	return "", false
}

// HandleReply processes a reply that arrived through providerName. Replies
// from unknown numbers or without a clear answer are ignored.
func (h *RSVPHandler) HandleReply(ctx context.Context, providerName, from, text string) (*Reply, error) {
	status, ok := Classify(text)
	if !ok {
		return &Reply{}, nil
	}

	guest, err := h.guests.RespondByPhone(ctx, from, status, providerName)
	if errors.Is(err, invitation.ErrGuestNotFound) {
		h.log.Debug().Str("from", from).Msg("reply from unknown number")
		return &Reply{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update RSVP: %w", err)
	}

	reply := &Reply{Matched: true, Status: status, Guest: guest, Response: h.responseFor(status)}
	h.log.Info().
		Str("invitation_id", guest.InvitationID).
		Str("status", string(status)).
		Str("via", providerName).
		Msg("RSVP received")

	if err := h.send(ctx, providerName, from, reply.Response); err != nil {
		h.log.Warn().Err(err).Str("via", providerName).Msg("failed to send RSVP confirmation")
		return reply, nil
	}
	reply.Sent = true
	return reply, nil
}

func (h *RSVPHandler) responseFor(status models.GuestStatus) string {
	if status == models.GuestConfirmed {
		return fmt.Sprintf(
			"🎉 Wonderful! We're so excited to celebrate with you!\n\n"+
				"We've confirmed your attendance for the wedding of %s & %s on %s at %s.\n\n"+
				"See you there! 💕",
			h.wedding.BrideName, h.wedding.GroomName, h.wedding.Date, h.wedding.Location,
		)
	}
	return fmt.Sprintf(
		"Thank you for letting us know. We're sorry you won't be able to join us for the wedding of %s & %s.\n\n"+
			"We'll miss you! 💕",
		h.wedding.BrideName, h.wedding.GroomName,
	)
}

// send answers through the provider the reply came in on.
func (h *RSVPHandler) send(ctx context.Context, providerName, to, body string) error {
	if h.providers == nil {
		return errors.New("no providers configured")
	}
	p, ok := h.providers.Get(providerName)
	if !ok {
		return fmt.Errorf("provider %q is not configured", providerName)
	}
	addr, err := h.normalizer.Normalize(to, p.PhoneFormat())
	if err != nil {
		return err
	}
	return p.Send(ctx, provider.Message{To: addr, Body: body}).Err()
}

func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// negatedAccept reports an accept word preceded by a negator within three words.
func negatedAccept(words []string) bool {
	for i, w := range words {
		if !hasWord([]string{w}, acceptWords...) {
			continue
		}
		if hasWord(words[max(0, i-3):i], negators...) {
			return true
		}
	}
	return false
}

func hasWord(words []string, keywords ...string) bool {
	for _, w := range words {
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}
