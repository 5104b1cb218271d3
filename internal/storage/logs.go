package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"wedding-invitations/internal/models"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const logColumns = `id, guest_name, guest_id, notification_type, sent_to, sent_via, status, provider_message_id, error_message, created_at`

func (s *Storage) prepareLog(e *models.DeliveryLogEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Status == "" {
		e.Status = models.DeliveryPending
	}
}

func insertLog(ctx context.Context, db dbtx, e *models.DeliveryLogEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO notification_logs (`+logColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.GuestName, e.GuestID, e.NotificationType, e.SentTo, e.SentVia,
		string(e.Status), e.ProviderMessageID, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// AppendLog inserts one delivery log row. Rows are never rewritten except by
// UpdateLogStatus.
func (s *Storage) AppendLog(ctx context.Context, e *models.DeliveryLogEntry) error {
	s.prepareLog(e)
	return insertLog(ctx, s.db, e)
}

// ListLogs returns the most recent entries first.
func (s *Storage) ListLogs(ctx context.Context, limit int) ([]models.DeliveryLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+logColumns+` FROM notification_logs
		ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.DeliveryLogEntry, 0)
	for rows.Next() {
		var e models.DeliveryLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.GuestName, &e.GuestID, &e.NotificationType, &e.SentTo,
			&e.SentVia, &status, &e.ProviderMessageID, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.Status = models.DeliveryStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateLogStatus applies a vendor status callback to the entry with the given
// provider message id.
func (s *Storage) UpdateLogStatus(ctx context.Context, providerMessageID string, status models.DeliveryStatus, errMsg string) error {
	if providerMessageID == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `UPDATE notification_logs SET status = $1, error_message = $2
		WHERE provider_message_id = $3`, string(status), errMsg, providerMessageID)
	if err != nil {
		return fmt.Errorf("failed to update log status: %w", err)
	}
	return expectOne(res)
}
