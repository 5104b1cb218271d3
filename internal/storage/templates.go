package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wedding-invitations/internal/models"
)

// templates carry the media of their earliest template_media row
const templateSelect = `SELECT t.id, t.name, t.body, t.subject, t.provider_template, t.created_at, t.updated_at,
	COALESCE(m.media_url, ''), COALESCE(m.media_type, '')
	FROM invitation_templates t
	LEFT JOIN template_media m ON m.id = (
		SELECT id FROM template_media WHERE template_id = t.id ORDER BY created_at, id LIMIT 1
	)`

func scanTemplate(row rowScanner) (models.MessageTemplate, error) {
	var t models.MessageTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Body, &t.Subject, &t.ProviderTemplate,
		&t.CreatedAt, &t.UpdatedAt, &t.MediaURL, &t.MediaType)
	return t, err
}

func (s *Storage) CreateTemplate(ctx context.Context, t *models.MessageTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO invitation_templates
			(id, name, body, subject, provider_template, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.Name, t.Body, t.Subject, t.ProviderTemplate, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to create template: %w", err)
		}
		if t.MediaURL == "" {
			return nil
		}
		return insertMedia(ctx, tx, &models.TemplateMedia{
			ID: uuid.NewString(), TemplateID: t.ID, MediaURL: t.MediaURL, MediaType: t.MediaType, CreatedAt: t.CreatedAt,
		})
	})
}

func (s *Storage) GetTemplate(ctx context.Context, id string) (*models.MessageTemplate, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, templateSelect+` WHERE t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

func (s *Storage) ListTemplates(ctx context.Context) ([]models.MessageTemplate, error) {
	rows, err := s.db.QueryContext(ctx, templateSelect+` ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]models.MessageTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpdateTemplate rewrites the text fields. A non-empty MediaURL replaces the
// template's media.
func (s *Storage) UpdateTemplate(ctx context.Context, t *models.MessageTemplate) error {
	t.UpdatedAt = s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE invitation_templates
			SET name = $1, body = $2, subject = $3, provider_template = $4, updated_at = $5
			WHERE id = $6`,
			t.Name, t.Body, t.Subject, t.ProviderTemplate, t.UpdatedAt, t.ID)
		if err != nil {
			return fmt.Errorf("failed to update template: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}
		if t.MediaURL == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_media WHERE template_id = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to replace media: %w", err)
		}
		return insertMedia(ctx, tx, &models.TemplateMedia{
			ID: uuid.NewString(), TemplateID: t.ID, MediaURL: t.MediaURL, MediaType: t.MediaType, CreatedAt: t.UpdatedAt,
		})
	})
}

func (s *Storage) AddTemplateMedia(ctx context.Context, m *models.TemplateMedia) error {
	if _, err := s.GetTemplate(ctx, m.TemplateID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.now()
	return insertMedia(ctx, s.db, m)
}

func insertMedia(ctx context.Context, db dbtx, m *models.TemplateMedia) error {
	_, err := db.ExecContext(ctx, `INSERT INTO template_media (id, template_id, media_url, media_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`, m.ID, m.TemplateID, m.MediaURL, m.MediaType, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add template media: %w", err)
	}
	return nil
}
