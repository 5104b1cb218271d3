// Package invitation manages guests' RSVP state: invitation ids, attendance
// confirmations, apologies and the QR codes printed on invitations.
package invitation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/metrics"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
)

const (
	IDLength = 10

	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	maxIDAttempts = 5
)

var (
	ErrNameRequired     = errors.New("full name is required")
	ErrGuestNotFound    = errors.New("invitation not found")
	ErrIDSpaceExhausted = errors.New("could not allocate a unique invitation id")
)

// Store is the guest persistence the service needs.
type Store interface {
	AddGuest(ctx context.Context, g *models.Guest) error
	GetGuestByInvitation(ctx context.Context, invitationID string) (*models.Guest, error)
	GetGuestByPhone(ctx context.Context, phoneNumber string) (*models.Guest, error)
	UpdateGuestStatus(ctx context.Context, invitationID string, status models.GuestStatus, at time.Time) (*models.Guest, error)
	InvitationIDExists(ctx context.Context, invitationID string) (bool, error)
}

type Service struct {
	store      Store
	feed       guestfeed.Feed
	normalizer *phone.Normalizer
	metrics    *metrics.Metrics
	log        zerolog.Logger
	linkFormat string
	notFound   error
	now        func() time.Time
}

// NewService wires the guest service. notFound is the store's not-found error,
// translated to ErrGuestNotFound. feed, normalizer and m may be nil.
func NewService(store Store, notFound error, feed guestfeed.Feed, normalizer *phone.Normalizer, m *metrics.Metrics, linkFormat string, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		feed:       feed,
		normalizer: normalizer,
		metrics:    m,
		log:        log.With().Str("component", "invitation").Logger(),
		linkFormat: linkFormat,
		notFound:   notFound,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewInvitationID returns a random base-36 id from crypto/rand.
func NewInvitationID() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(alphabet)))
	for i := 0; i < IDLength; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidID reports whether id has the shape NewInvitationID produces.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// UniqueID draws ids until one is unused in the store.
func (s *Service) UniqueID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := NewInvitationID()
		if err != nil {
			return "", err
		}
		exists, err := s.store.InvitationIDExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		s.log.Warn().Str("invitation_id", id).Msg("invitation id collision")
	}
	return "", ErrIDSpaceExhausted
}

// Link returns the public URL of an invitation.
func (s *Service) Link(invitationID string) string {
	return strings.ReplaceAll(s.linkFormat, "{id}", invitationID)
}

// Invite registers a pending guest with a fresh invitation id.
func (s *Service) Invite(ctx context.Context, fullName, phoneNumber string) (*models.Guest, error) {
	return s.newGuest(ctx, models.AttendanceRequest{FullName: fullName, PhoneNumber: phoneNumber}, models.GuestPending)
}

// Confirm records attendance. With an invitation id the existing guest is
// updated; without one a new confirmed guest is created.
func (s *Service) Confirm(ctx context.Context, req models.AttendanceRequest) (*models.Guest, error) {
	return s.respond(ctx, req, models.GuestConfirmed, "web")
}

// Apologize records that the guest will not attend.
func (s *Service) Apologize(ctx context.Context, req models.AttendanceRequest) (*models.Guest, error) {
	return s.respond(ctx, req, models.GuestApologized, "web")
}

// RespondByPhone applies an RSVP answer received as a message reply.
func (s *Service) RespondByPhone(ctx context.Context, phoneNumber string, status models.GuestStatus, source string) (*models.Guest, error) {
	g, err := s.store.GetGuestByPhone(ctx, s.normalize(phoneNumber))
	if err != nil {
		return nil, s.translate(err)
	}
	return s.update(ctx, g.InvitationID, status, source)
}

func (s *Service) Get(ctx context.Context, invitationID string) (*models.Guest, error) {
	g, err := s.store.GetGuestByInvitation(ctx, invitationID)
	if err != nil {
		return nil, s.translate(err)
	}
	return g, nil
}

// QRCode renders the invitation link as a PNG.
func (s *Service) QRCode(invitationID string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(s.Link(invitationID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

func (s *Service) respond(ctx context.Context, req models.AttendanceRequest, status models.GuestStatus, source string) (*models.Guest, error) {
	req.InvitationID = strings.TrimSpace(req.InvitationID)
	if req.InvitationID != "" {
		return s.update(ctx, req.InvitationID, status, source)
	}
	g, err := s.newGuest(ctx, req, status)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRSVP(string(status), source)
	return g, nil
}

func (s *Service) newGuest(ctx context.Context, req models.AttendanceRequest, status models.GuestStatus) (*models.Guest, error) {
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, ErrNameRequired
	}
	id, err := s.UniqueID(ctx)
	if err != nil {
		return nil, err
	}
	g := &models.Guest{
		FullName:     name,
		PhoneNumber:  s.normalize(req.PhoneNumber),
		InvitationID: id,
		Status:       status,
	}
	now := s.now()
	switch status {
	case models.GuestConfirmed:
		g.ConfirmationTimestamp = &now
	case models.GuestApologized:
		g.ApologyTimestamp = &now
	}
	if err := s.store.AddGuest(ctx, g); err != nil {
		return nil, err
	}
	s.publish(ctx, guestfeed.EventAdded, g)
	return g, nil
}

func (s *Service) update(ctx context.Context, invitationID string, status models.GuestStatus, source string) (*models.Guest, error) {
	g, err := s.store.UpdateGuestStatus(ctx, invitationID, status, s.now())
	if err != nil {
		return nil, s.translate(err)
	}
	s.metrics.RecordRSVP(string(status), source)
	s.publish(ctx, guestfeed.EventUpdated, g)
	return g, nil
}

// normalize stores numbers in bare international form so replies can be matched.
func (s *Service) normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.normalizer == nil {
		return raw
	}
	n, err := s.normalizer.Normalize(raw, phone.Bare)
	if err != nil {
		return raw
	}
	return n
}

func (s *Service) translate(err error) error {
	if s.notFound != nil && errors.Is(err, s.notFound) {
		return ErrGuestNotFound
	}
	return err
}

func (s *Service) publish(ctx context.Context, typ string, g *models.Guest) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, guestfeed.Event{Type: typ, Guest: *g}); err != nil {
		s.log.Warn().Err(err).Str("invitation_id", g.InvitationID).Msg("failed to publish guest event")
	}
}
