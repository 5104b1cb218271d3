// Package deliverylog writes the audit trail of send attempts. Writes are
// best-effort: a failing store never fails the send that produced the entry.
package deliverylog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wedding-invitations/internal/models"
)

// Store is the persistence the writer needs.
type Store interface {
	AppendLog(ctx context.Context, e *models.DeliveryLogEntry) error
	RecordDelivery(ctx context.Context, list models.ContactList, contactID string, e *models.DeliveryLogEntry) error
}

type Writer struct {
	store   Store
	log     zerolog.Logger
	timeout time.Duration
}

func NewWriter(store Store, log zerolog.Logger) *Writer {
	return &Writer{
		store:   store,
		log:     log.With().Str("component", "deliverylog").Logger(),
		timeout: 5 * time.Second,
	}
}

// Log appends e. It reports whether the entry was stored.
func (w *Writer) Log(ctx context.Context, e models.DeliveryLogEntry) bool {
	return w.write(ctx, e, func(ctx context.Context, e *models.DeliveryLogEntry) error {
		return w.store.AppendLog(ctx, e)
	})
}

// LogDelivery appends e and, for successful sends, marks the contact as sent to
// in the same transaction.
func (w *Writer) LogDelivery(ctx context.Context, list models.ContactList, contactID string, e models.DeliveryLogEntry) bool {
	return w.write(ctx, e, func(ctx context.Context, e *models.DeliveryLogEntry) error {
		return w.store.RecordDelivery(ctx, list, contactID, e)
	})
}

func (w *Writer) write(ctx context.Context, e models.DeliveryLogEntry, fn func(context.Context, *models.DeliveryLogEntry) error) bool {
	if w == nil || w.store == nil {
		return false
	}
	// the batch may have been cancelled; the record of what happened still matters
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := fn(ctx, &e); err != nil {
		w.log.Error().Err(err).
			Str("sent_to", e.SentTo).
			Str("sent_via", e.SentVia).
			Str("status", string(e.Status)).
			Msg("failed to write delivery log")
		return false
	}
	return true
}
