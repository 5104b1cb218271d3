package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wedding-invitations/internal/models"
)

const guestColumns = `id, full_name, phone_number, invitation_id, status, confirmation_timestamp, apology_timestamp, created_at`

func scanGuest(row rowScanner) (models.Guest, error) {
	var g models.Guest
	var status string
	var confirmed, apologized sql.NullTime
	if err := row.Scan(&g.ID, &g.FullName, &g.PhoneNumber, &g.InvitationID, &status,
		&confirmed, &apologized, &g.CreatedAt); err != nil {
		return g, err
	}
	g.Status = models.GuestStatus(status)
	g.ConfirmationTimestamp = timePtr(confirmed)
	g.ApologyTimestamp = timePtr(apologized)
	return g, nil
}

// AddGuest inserts g. The invitation id must be unique.
func (s *Storage) AddGuest(ctx context.Context, g *models.Guest) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = models.GuestPending
	}
	g.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO guests (`+guestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.FullName, g.PhoneNumber, g.InvitationID, string(g.Status),
		nullTime(g.ConfirmationTimestamp), nullTime(g.ApologyTimestamp), g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to add guest: %w", err)
	}
	return nil
}

func (s *Storage) getGuest(ctx context.Context, where string, arg any) (*models.Guest, error) {
	g, err := scanGuest(s.db.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE `+where+`
		ORDER BY created_at DESC LIMIT 1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guest: %w", err)
	}
	return &g, nil
}

func (s *Storage) GetGuestByInvitation(ctx context.Context, invitationID string) (*models.Guest, error) {
	return s.getGuest(ctx, `invitation_id = $1`, invitationID)
}

// GetGuestByPhone returns the most recently added guest with the given number.
func (s *Storage) GetGuestByPhone(ctx context.Context, phoneNumber string) (*models.Guest, error) {
	return s.getGuest(ctx, `phone_number = $1`, phoneNumber)
}

// UpdateGuestStatus records an RSVP answer. Confirming sets the confirmation
// timestamp and apologizing sets the apology timestamp; the other is cleared.
func (s *Storage) UpdateGuestStatus(ctx context.Context, invitationID string, status models.GuestStatus, at time.Time) (*models.Guest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid guest status %q", status)
	}
	var confirmed, apologized sql.NullTime
	switch status {
	case models.GuestConfirmed:
		confirmed = sql.NullTime{Time: at, Valid: true}
	case models.GuestApologized:
		apologized = sql.NullTime{Time: at, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE guests
		SET status = $1, confirmation_timestamp = $2, apology_timestamp = $3
		WHERE invitation_id = $4`, string(status), confirmed, apologized, invitationID)
	if err != nil {
		return nil, fmt.Errorf("failed to update guest: %w", err)
	}
	if err := expectOne(res); err != nil {
		return nil, err
	}
	return s.GetGuestByInvitation(ctx, invitationID)
}

// ListGuests returns all guests, or only those with status when it is set.
func (s *Storage) ListGuests(ctx context.Context, status models.GuestStatus) ([]models.Guest, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+guestColumns+` FROM guests ORDER BY created_at, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE status = $1 ORDER BY created_at, id`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list guests: %w", err)
	}
	defer rows.Close()

	guests := make([]models.Guest, 0)
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guest: %w", err)
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

func (s *Storage) InvitationIDExists(ctx context.Context, invitationID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guests WHERE invitation_id = $1`, invitationID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check invitation id: %w", err)
	}
	return n > 0, nil
}
