package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wedding-invitations/internal/models"
	"wedding-invitations/internal/provider/messagebird"
	"wedding-invitations/internal/provider/twilio"
	"wedding-invitations/internal/provider/zoko"
	"wedding-invitations/internal/storage"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// deliveryStatus maps a vendor status onto the log. Intermediate states return false.
func deliveryStatus(vendorStatus string) (models.DeliveryStatus, bool) {
	switch strings.ToLower(vendorStatus) {
	case "delivered", "read", "sent":
		return models.DeliverySent, true
	case "failed", "undelivered", "delivery_failed", "expired", "rejected":
		return models.DeliveryFailed, true
	}
	return "", false
}

// updateLog applies a status callback. Unknown message ids are acknowledged so
// the vendor stops retrying.
func (s *Server) updateLog(ctx context.Context, vendor, messageID, vendorStatus, errMsg string) {
	status, final := deliveryStatus(vendorStatus)
	if !final {
		return
	}
	err := s.Store.UpdateLogStatus(ctx, messageID, status, errMsg)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.log.Debug().Str("vendor", vendor).Str("message_id", messageID).Msg("status for unknown message")
	case err != nil:
		s.log.Error().Err(err).Str("vendor", vendor).Str("message_id", messageID).Msg("failed to update delivery status")
	default:
		s.log.Debug().Str("vendor", vendor).Str("message_id", messageID).Str("status", string(status)).Msg("delivery status updated")
	}
}

// verifyTwilio checks X-Twilio-Signature when an auth token is configured.
func (s *Server) verifyTwilio(c *gin.Context) bool {
	if s.twilioValidator == nil {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		params[k] = c.Request.PostForm.Get(k)
	}
	url := strings.TrimRight(s.opts.PublicURL, "/") + c.Request.URL.RequestURI()
	if !s.twilioValidator.Validate(url, params, c.GetHeader("X-Twilio-Signature")) {
		fail(c, http.StatusForbidden, "Forbidden", errors.New("invalid twilio signature"))
		return false
	}
	return true
}

func (s *Server) twilioStatus(c *gin.Context) {
	if !s.verifyTwilio(c) {
		return
	}
	var errMsg string
	if code := c.PostForm("ErrorCode"); code != "" {
		errMsg = "twilio error " + code
	}
	s.updateLog(c.Request.Context(), twilio.NameSMS, c.PostForm("MessageSid"), c.PostForm("MessageStatus"), errMsg)
	c.Status(http.StatusNoContent)
}

func (s *Server) twilioInbound(c *gin.Context) {
	if !s.verifyTwilio(c) {
		return
	}
	from := c.PostForm("From")
	via := twilio.NameSMS
	if rest, found := strings.CutPrefix(from, "whatsapp:"); found {
		from, via = rest, twilio.NameWhatsApp
	}
	if _, err := s.RSVP.HandleReply(c.Request.Context(), via, from, c.PostForm("Body")); err != nil {
		s.log.Error().Err(err).Str("via", via).Msg("failed to handle inbound reply")
	}
	c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
}

// messageBirdStatus accepts the status report either as query parameters or as a form post.
func (s *Server) messageBirdStatus(c *gin.Context) {
	id := c.Request.FormValue("id")
	status := c.Request.FormValue("status")
	var errMsg string
	if code := c.Request.FormValue("statusErrorCode"); code != "" {
		errMsg = "messagebird error " + code
	}
	s.updateLog(c.Request.Context(), messagebird.Name, id, status, errMsg)
	c.Status(http.StatusNoContent)
}

type zokoEvent struct {
	Direction        string `json:"direction"`
	MessageID        string `json:"messageId"`
	DeliveryStatus   string `json:"deliveryStatus"`
	PlatformSenderID string `json:"platformSenderId"`
	Text             string `json:"text"`
}

// zokoWebhook receives both customer replies and delivery updates on one URL.
func (s *Server) zokoWebhook(c *gin.Context) {
	var evt zokoEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request", err)
		return
	}
	if evt.Direction == "FROM_CUSTOMER" {
		if _, err := s.RSVP.HandleReply(c.Request.Context(), zoko.Name, evt.PlatformSenderID, evt.Text); err != nil {
			s.log.Error().Err(err).Str("via", zoko.Name).Msg("failed to handle inbound reply")
		}
	} else if evt.MessageID != "" {
		s.updateLog(c.Request.Context(), zoko.Name, evt.MessageID, evt.DeliveryStatus, "")
	}
	c.Status(http.StatusNoContent)
}
