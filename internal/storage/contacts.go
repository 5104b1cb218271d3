package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wedding-invitations/internal/models"
)

func contactTable(list models.ContactList) (string, error) {
	switch list {
	case models.ListAdmin:
		return "admin_contacts", nil
	case models.ListWhatsApp:
		return "whatsapp_contacts", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidList, list)
}

const contactColumns = `id, name, phone_number, email, push_subscription, channel, is_active, last_sent_at, created_at`

func scanContact(row rowScanner, list models.ContactList) (models.Contact, error) {
	var c models.Contact
	var channel string
	var lastSent sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Email, &c.PushSubscription,
		&channel, &c.IsActive, &lastSent, &c.CreatedAt); err != nil {
		return c, err
	}
	c.List = list
	c.Channel = models.Channel(channel)
	c.LastSentAt = timePtr(lastSent)
	return c, nil
}

// ListContacts returns the contacts of a list in creation order.
func (s *Storage) ListContacts(ctx context.Context, list models.ContactList, activeOnly bool) ([]models.Contact, error) {
	table, err := contactTable(list)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + contactColumns + ` FROM ` + table
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows, list)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetContacts loads the given contacts, preserving the order of ids. Unknown
// ids are skipped.
func (s *Storage) GetContacts(ctx context.Context, list models.ContactList, ids []string) ([]models.Contact, error) {
	contacts := make([]models.Contact, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContact(ctx, list, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, nil
}

func (s *Storage) GetContact(ctx context.Context, list models.ContactList, id string) (*models.Contact, error) {
	table, err := contactTable(list)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM `+table+` WHERE id = $1`, id)
	c, err := scanContact(row, list)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

// CreateContact inserts c into its list, filling in ID and CreatedAt.
func (s *Storage) CreateContact(ctx context.Context, c *models.Contact) error {
	table, err := contactTable(c.List)
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+table+` (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.PhoneNumber, c.Email, c.PushSubscription, string(c.Channel),
		c.IsActive, nullTime(c.LastSentAt), c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func (s *Storage) SetContactActive(ctx context.Context, list models.ContactList, id string, active bool) error {
	table, err := contactTable(list)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return expectOne(res)
}

func (s *Storage) DeleteContact(ctx context.Context, list models.ContactList, id string) error {
	table, err := contactTable(list)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return expectOne(res)
}

// RecordDelivery marks the contact as sent to and appends the log entry in one
// transaction. The contact mark only happens for successful sends.
func (s *Storage) RecordDelivery(ctx context.Context, list models.ContactList, contactID string, entry *models.DeliveryLogEntry) error {
	table, err := contactTable(list)
	if err != nil {
		return err
	}
	s.prepareLog(entry)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if entry.Status == models.DeliverySent && contactID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET last_sent_at = $1 WHERE id = $2`,
				entry.CreatedAt, contactID); err != nil {
				return fmt.Errorf("failed to mark contact: %w", err)
			}
		}
		return insertLog(ctx, tx, entry)
	})
}
