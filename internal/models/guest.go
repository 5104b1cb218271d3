package models

import "time"

// Guest represents a wedding invitee and their RSVP state
type Guest struct {
	ID                    string      `json:"id"`
	FullName              string      `json:"full_name"`
	PhoneNumber           string      `json:"phone_number,omitempty"`
	InvitationID          string      `json:"invitation_id"`
	Status                GuestStatus `json:"status"`
	ConfirmationTimestamp *time.Time  `json:"confirmation_timestamp,omitempty"`
	ApologyTimestamp      *time.Time  `json:"apology_timestamp,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
}

// GuestStatus represents the attendance confirmation status
type GuestStatus string

const (
	GuestPending    GuestStatus = "pending"
	GuestConfirmed  GuestStatus = "confirmed"
	GuestApologized GuestStatus = "apologized"
)

// Valid reports whether s is a known guest status.
func (s GuestStatus) Valid() bool {
	switch s {
	case GuestPending, GuestConfirmed, GuestApologized:
		return true
	}
	return false
}

// AttendanceRequest is what the public RSVP form submits
type AttendanceRequest struct {
	FullName     string `json:"full_name" form:"full_name"`
	PhoneNumber  string `json:"phone_number" form:"phone_number"`
	InvitationID string `json:"invitation_id" form:"invitation_id"`
}
