package models

import "time"

// Channel is the medium a contact is reached on
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelPush:
		return true
	}
	return false
}

// UsesPhone reports whether recipients on this channel are addressed by phone number.
func (c Channel) UsesPhone() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

// ContactList names one of the stored contact lists
type ContactList string

const (
	ListAdmin    ContactList = "admin"
	ListWhatsApp ContactList = "whatsapp"
)

// Valid reports whether l is a known contact list.
func (l ContactList) Valid() bool {
	return l == ListAdmin || l == ListWhatsApp
}

// Contact is a stored admin or guest record eligible to receive notifications
type Contact struct {
	ID               string      `json:"id"`
	List             ContactList `json:"list"`
	Name             string      `json:"name"`
	PhoneNumber      string      `json:"phone_number,omitempty"`
	Email            string      `json:"email,omitempty"`
	PushSubscription string      `json:"push_subscription,omitempty"`
	Channel          Channel     `json:"channel"`
	IsActive         bool        `json:"is_active"`
	LastSentAt       *time.Time  `json:"last_sent_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Address returns the value the contact is reached at on its channel.
func (c Contact) Address() string {
	switch c.Channel {
	case ChannelEmail:
		return c.Email
	case ChannelPush:
		return c.PushSubscription
	default:
		return c.PhoneNumber
	}
}
