// Package smtp delivers invitations by email.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

const Name = "smtp"

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Sender struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	sendMail sendFunc
	now      func() time.Time
}

func New(cfg config.SMTPConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		from:     cfg.From,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

func (s *Sender) Name() string { return Name }

// PhoneFormat is unused: email recipients skip phone normalization.
func (s *Sender) PhoneFormat() phone.Format { return phone.Plus }

func (s *Sender) Send(ctx context.Context, msg provider.Message) provider.Result {
	if err := ctx.Err(); err != nil {
		return provider.TransientFailure("email: %v", err)
	}
	if !strings.Contains(msg.To, "@") {
		return provider.Failed("email: invalid recipient %q", msg.To)
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	body := s.compose(id, msg)

	if err := s.sendMail(s.addr, s.auth, s.from, []string{msg.To}, body); err != nil {
		return fromError(err)
	}
	return provider.Succeeded(id)
}

func (s *Sender) compose(id string, msg provider.Message) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = "You're invited"
	}
	text := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	if msg.MediaURL != "" {
		text += "\n\n" + msg.MediaURL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))
	return []byte(b.String())
}

// fromError treats 4xx SMTP replies and network errors as transient.
func fromError(err error) provider.Result {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return provider.TransientFailure("email: %d %s", tpErr.Code, tpErr.Msg)
		}
		return provider.Failed("email: %d %s", tpErr.Code, tpErr.Msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.TransientFailure("email: %v", err)
	}
	return provider.Failed("email: %v", err)
}
