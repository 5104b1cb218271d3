// Package whatsapp drives a linked-device WhatsApp session: outbound invitations
// go through it as the "whatsmeow" provider and guest replies come back as
// inbound messages.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

const Name = "whatsmeow"

var ErrNotPaired = errors.New("whatsapp device is not paired")

// InboundFunc receives the sender's bare phone number and the text of a reply.
type InboundFunc func(ctx context.Context, from, text string)

// client is the subset of *whatsmeow.Client the service uses.
type client interface {
	IsConnected() bool
	IsOnWhatsApp(ctx context.Context, phones []string) ([]types.IsOnWhatsAppResponse, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

type Service struct {
	wa      *whatsmeow.Client
	client  client
	log     zerolog.Logger
	inbound InboundFunc
}

// NewService opens the device store under dataDir and prepares a client. It
// does not connect.
func NewService(ctx context.Context, dataDir string, log zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dataDir, "whatsmeow.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	wa := whatsmeow.NewClient(deviceStore, nil)
	s := &Service{
		wa:     wa,
		client: wa,
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
	wa.AddEventHandler(s.eventHandler)
	return s, nil
}

func (s *Service) Name() string { return Name }

func (s *Service) PhoneFormat() phone.Format { return phone.Bare }

// Paired reports whether a device session is stored.
func (s *Service) Paired() bool {
	return s.wa != nil && s.wa.Store.ID != nil
}

// Connect resumes a stored session. It fails with ErrNotPaired when there is none.
func (s *Service) Connect() error {
	if !s.Paired() {
		return ErrNotPaired
	}
	if err := s.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Pair links a new device, printing each login QR code to out until the
// phone scans one or the codes run out.
func (s *Service) Pair(ctx context.Context, out io.Writer) error {
	if s.Paired() {
		return s.Connect()
	}
	qrChan, err := s.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := s.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			q, err := qrcode.New(evt.Code, qrcode.Medium)
			if err != nil {
				fmt.Fprintf(out, "QR code: %s\n", evt.Code)
				continue
			}
			fmt.Fprintln(out, q.ToSmallString(false))
			fmt.Fprintln(out, "Scan with WhatsApp: Settings > Linked Devices > Link a Device")
		case "success":
			s.log.Info().Msg("device paired")
			return nil
		default:
			s.log.Warn().Str("event", evt.Event).Msg("pairing event")
		}
	}
	if !s.Paired() {
		return fmt.Errorf("pairing did not complete")
	}
	return nil
}

func (s *Service) Disconnect() {
	if s.wa != nil {
		s.wa.Disconnect()
	}
}

// OnInbound registers the callback for guest replies.
func (s *Service) OnInbound(fn InboundFunc) {
	s.inbound = fn
}

// Send delivers msg.Body as a plain conversation message. msg.To must be a bare
// international number. Linked devices cannot use vendor templates, so the
// template fields are ignored.
func (s *Service) Send(ctx context.Context, msg provider.Message) provider.Result {
	if !s.client.IsConnected() {
		return provider.TransientFailure("whatsapp: not connected")
	}

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + msg.To})
	if err != nil {
		return provider.TransientFailure("whatsapp: failed to verify number: %v", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return provider.Failed("whatsapp: %s is not registered on WhatsApp", msg.To)
	}
	jid := resp[0].JID

	text := msg.Body
	if msg.MediaURL != "" {
		text += "\n\n" + msg.MediaURL
	}

	s.log.Debug().Str("jid", jid.String()).Msg("sending message")
	sent, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: &text})
	if err != nil {
		if strings.Contains(err.Error(), "unknown server") || strings.Contains(err.Error(), "can't send message") {
			return provider.Failed("whatsapp: failed to send to %s: %v", jid.String(), err)
		}
		return provider.TransientFailure("whatsapp: failed to send: %v", err)
	}
	return provider.Succeeded(string(sent.ID))
}

func (s *Service) eventHandler(evt any) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("connected to WhatsApp")
	case *events.Disconnected:
		s.log.Warn().Msg("disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Warn().Msg("logged out from WhatsApp")
	}
}

func (s *Service) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Info.IsGroup {
		return
	}
	text := messageText(msg.Message)
	if text == "" {
		return
	}
	from := msg.Info.Sender.User
	if s.inbound == nil {
		s.log.Info().Str("sender", from).Msg("received message")
		return
	}
	s.inbound(context.Background(), from, text)
}

func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if t := m.GetConversation(); t != "" {
		return t
	}
	return m.GetExtendedTextMessage().GetText()
}
