package invitation

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invitations/internal/guestfeed"
	"wedding-invitations/internal/models"
	"wedding-invitations/internal/phone"
	"wedding-invitations/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Storage, *guestfeed.MemoryFeed) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.DriverSQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	norm, err := phone.NewNormalizer("AE", "SA")
	require.NoError(t, err)
	feed := guestfeed.NewMemoryFeed()
	svc := NewService(store, storage.ErrNotFound, feed, norm, nil, "https://wedding.test/invitation/{id}", zerolog.Nop())
	return svc, store, feed
}

func TestNewInvitationID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := NewInvitationID()
		require.NoError(t, err)
		assert.True(t, ValidID(id), id)
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.False(t, ValidID("ABCDEFGHIJ"))
	assert.False(t, ValidID("short"))
}

func TestConfirm_NewGuest(t *testing.T) {
	svc, store, feed := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	g, err := svc.Confirm(context.Background(), models.AttendanceRequest{FullName: " Ahmed Ali ", PhoneNumber: "050 123 4567"})
	require.NoError(t, err)

	assert.Equal(t, "Ahmed Ali", g.FullName)
	assert.Equal(t, "971501234567", g.PhoneNumber)
	assert.Equal(t, models.GuestConfirmed, g.Status)
	assert.True(t, ValidID(g.InvitationID))
	require.NotNil(t, g.ConfirmationTimestamp)

	stored, err := store.GetGuestByInvitation(context.Background(), g.InvitationID)
	require.NoError(t, err)
	assert.Equal(t, models.GuestConfirmed, stored.Status)

	select {
	case evt := <-events:
		assert.Equal(t, guestfeed.EventAdded, evt.Type)
		assert.Equal(t, g.InvitationID, evt.Guest.InvitationID)
	case <-time.After(time.Second):
		t.Fatal("no guest event published")
	}
}

func TestApologize_ExistingInvitation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	invited, err := svc.Invite(ctx, "Fatima", "+966501234567")
	require.NoError(t, err)
	assert.Equal(t, models.GuestPending, invited.Status)

	g, err := svc.Apologize(ctx, models.AttendanceRequest{InvitationID: invited.InvitationID})
	require.NoError(t, err)
	assert.Equal(t, models.GuestApologized, g.Status)
	assert.NotNil(t, g.ApologyTimestamp)
	assert.Nil(t, g.ConfirmationTimestamp)
}

func TestRespond_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, models.AttendanceRequest{FullName: "  "})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.Confirm(ctx, models.AttendanceRequest{InvitationID: "zzzzzzzzzz"})
	assert.ErrorIs(t, err, ErrGuestNotFound)

	_, err = svc.Get(ctx, "zzzzzzzzzz")
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestRespondByPhone(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	invited, err := svc.Invite(ctx, "Omar", "0507654321")
	require.NoError(t, err)

	g, err := svc.RespondByPhone(ctx, "+971 50 765 4321", models.GuestConfirmed, "whatsapp")
	require.NoError(t, err)
	assert.Equal(t, invited.InvitationID, g.InvitationID)
	assert.Equal(t, models.GuestConfirmed, g.Status)

	_, err = svc.RespondByPhone(ctx, "971500000000", models.GuestConfirmed, "whatsapp")
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

type collidingStore struct {
	Store
	checks int
}

func (c *collidingStore) InvitationIDExists(context.Context, string) (bool, error) {
	c.checks++
	return true, nil
}

func TestUniqueID_GivesUpAfterCollisions(t *testing.T) {
	store := &collidingStore{}
	svc := NewService(store, nil, nil, nil, nil, "", zerolog.Nop())

	_, err := svc.UniqueID(context.Background())
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
	assert.Equal(t, maxIDAttempts, store.checks)
}

func TestQRCode(t *testing.T) {
	svc, _, _ := newTestService(t)

	png, err := svc.QRCode("k3j9x0p2qa", 128)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	assert.Equal(t, "https://wedding.test/invitation/k3j9x0p2qa", svc.Link("k3j9x0p2qa"))
}
