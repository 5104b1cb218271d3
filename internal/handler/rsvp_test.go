package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invitations/internal/config"
	"wedding-invitations/internal/invitation"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/provider"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text   string
		status models.GuestStatus
		ok     bool
	}{
		{"YES", models.GuestConfirmed, true},
		{"Yes! We will be there", models.GuestConfirmed, true},
		{"✅", models.GuestConfirmed, true},
		{"I'm coming", models.GuestConfirmed, true},
		{"نعم", models.GuestConfirmed, true},
		{"أكيد إن شاء الله", models.GuestConfirmed, true},
		{"no", models.GuestApologized, true},
		{"Sorry, not coming", models.GuestApologized, true},
		{"I can't make it", models.GuestApologized, true},
		{"❌", models.GuestApologized, true},
		{"لا", models.GuestApologized, true},
		{"لن أحضر للأسف", models.GuestApologized, true},
		{"not attending", models.GuestApologized, true},
		{"I won't be coming", models.GuestApologized, true},
		{"I won’t be coming, sorry", models.GuestApologized, true},
		{"Unfortunately I will not be attending", models.GuestApologized, true},
		{"We cannot confirm, we're travelling", models.GuestApologized, true},
		{"I will not be there", models.GuestApologized, true},
		{"لن نكون حاضر", models.GuestApologized, true},
		{"Yes, I will not miss it", models.GuestConfirmed, true},
		{"لا شك سأحضر", models.GuestConfirmed, true},
		{"I know the venue", "", false},
		{"what time does it start?", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			status, ok := Classify(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.status, status)
		})
	}
}

type fakeResponder struct {
	guest  *models.Guest
	err    error
	phone  string
	status models.GuestStatus
	source string
}

func (f *fakeResponder) RespondByPhone(_ context.Context, phoneNumber string, status models.GuestStatus, source string) (*models.Guest, error) {
	f.phone, f.status, f.source = phoneNumber, status, source
	if f.err != nil {
		return nil, f.err
	}
	g := *f.guest
	g.Status = status
	return &g, nil
}

type recordingProvider struct {
	name   string
	format phone.Format
	result provider.Result
	sent   []provider.Message
}

func (r *recordingProvider) Name() string              { return r.name }
func (r *recordingProvider) PhoneFormat() phone.Format { return r.format }

func (r *recordingProvider) Send(_ context.Context, msg provider.Message) provider.Result {
	r.sent = append(r.sent, msg)
	return r.result
}

func newTestHandler(t *testing.T, guests Responder, p provider.Provider) *RSVPHandler {
	norm, err := phone.NewNormalizer("AE")
	require.NoError(t, err)
	wedding := config.WeddingConfig{BrideName: "Layla", GroomName: "Karim", Date: "2026-12-12", Location: "Dubai"}
	return NewRSVPHandler(guests, provider.NewRegistry(p), norm, wedding, zerolog.Nop())
}

func TestHandleReply_Confirms(t *testing.T) {
	guests := &fakeResponder{guest: &models.Guest{InvitationID: "k3j9x0p2qa", FullName: "Ahmed"}}
	p := &recordingProvider{name: "twilio-whatsapp", format: phone.Plus, result: provider.Succeeded("SM1")}
	h := newTestHandler(t, guests, p)

	reply, err := h.HandleReply(context.Background(), "twilio-whatsapp", "+971501234567", "Yes, see you!")
	require.NoError(t, err)

	assert.True(t, reply.Matched)
	assert.True(t, reply.Sent)
	assert.Equal(t, models.GuestConfirmed, reply.Status)
	assert.Equal(t, "twilio-whatsapp", guests.source)
	require.Len(t, p.sent, 1)
	assert.Equal(t, "+971501234567", p.sent[0].To)
	assert.Contains(t, p.sent[0].Body, "Layla & Karim")
}

func TestHandleReply_Declines(t *testing.T) {
	guests := &fakeResponder{guest: &models.Guest{InvitationID: "k3j9x0p2qa"}}
	p := &recordingProvider{name: "zoko", format: phone.Bare, result: provider.Succeeded("z1")}
	h := newTestHandler(t, guests, p)

	reply, err := h.HandleReply(context.Background(), "zoko", "971501234567", "sorry we can't come")
	require.NoError(t, err)

	assert.Equal(t, models.GuestApologized, reply.Status)
	assert.Equal(t, "971501234567", p.sent[0].To)
	assert.Contains(t, p.sent[0].Body, "miss you")
}

func TestHandleReply_NegatedAcceptDeclines(t *testing.T) {
	guests := &fakeResponder{guest: &models.Guest{InvitationID: "k3j9x0p2qa"}}
	p := &recordingProvider{name: "zoko", format: phone.Bare, result: provider.Succeeded("z1")}
	h := newTestHandler(t, guests, p)

	reply, err := h.HandleReply(context.Background(), "zoko", "971501234567", "Unfortunately I will not be attending")
	require.NoError(t, err)

	assert.Equal(t, models.GuestApologized, guests.status)
	assert.Equal(t, models.GuestApologized, reply.Status)
	require.Len(t, p.sent, 1)
	assert.NotContains(t, p.sent[0].Body, "confirmed your attendance")
}

func TestHandleReply_IgnoresUnclearAndUnknown(t *testing.T) {
	p := &recordingProvider{name: "zoko", format: phone.Bare}

	h := newTestHandler(t, &fakeResponder{guest: &models.Guest{}}, p)
	reply, err := h.HandleReply(context.Background(), "zoko", "971501234567", "where is the venue?")
	require.NoError(t, err)
	assert.False(t, reply.Matched)

	h = newTestHandler(t, &fakeResponder{err: invitation.ErrGuestNotFound}, p)
	reply, err = h.HandleReply(context.Background(), "zoko", "971501234567", "yes")
	require.NoError(t, err)
	assert.False(t, reply.Matched)

	assert.Empty(t, p.sent)
}

func TestHandleReply_StoreError(t *testing.T) {
	h := newTestHandler(t, &fakeResponder{err: errors.New("db down")}, &recordingProvider{name: "zoko"})

	_, err := h.HandleReply(context.Background(), "zoko", "971501234567", "yes")
	assert.Error(t, err)
}

func TestHandleReply_SendFailureStillRecordsAnswer(t *testing.T) {
	guests := &fakeResponder{guest: &models.Guest{InvitationID: "k3j9x0p2qa"}}
	p := &recordingProvider{name: "zoko", format: phone.Bare, result: provider.Failed("zoko returned 401: bad key")}
	h := newTestHandler(t, guests, p)

	reply, err := h.HandleReply(context.Background(), "zoko", "971501234567", "yes")
	require.NoError(t, err)
	assert.True(t, reply.Matched)
	assert.False(t, reply.Sent)
	assert.Equal(t, models.GuestConfirmed, guests.status)
}
