package models

import "time"

// DeliveryStatus is the outcome recorded for one send attempt
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryLogEntry is an append-only audit record of one send attempt
type DeliveryLogEntry struct {
	ID                string         `json:"id"`
	GuestName         string         `json:"guest_name"`
	GuestID           string         `json:"guest_id"`
	NotificationType  string         `json:"notification_type"`
	SentTo            string         `json:"sent_to"`
	SentVia           string         `json:"sent_via"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Recipient pairs a contact with its formatted message body
type Recipient struct {
	Contact Contact `json:"contact"`
	Body    string  `json:"body"`
}

// DispatchJob is the transient state of one bulk send
type DispatchJob struct {
	ID         string      `json:"id"`
	Recipients []Recipient `json:"recipients"`
	Provider   string      `json:"provider"`
	Sent       int         `json:"sent"`
}

// Total is the number of recipients in the job.
func (j *DispatchJob) Total() int {
	return len(j.Recipients)
}
