// Package storage persists contacts, templates, delivery logs and guests in a
// relational database. Postgres (lib/pq) and SQLite (go-sqlite3) are supported
// with the same schema and queries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrInvalidList = errors.New("unknown contact list")
)

type Storage struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Storage, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; in-memory databases also vanish per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, driver), nil
}

// New wraps an already opened database.
func New(db *sql.DB, driver string) *Storage {
	return &Storage{db: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping is used by the health check.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS admin_contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		push_subscription TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_sent_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS whatsapp_contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		push_subscription TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_sent_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invitation_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		body TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		provider_template TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS template_media (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL REFERENCES invitation_templates(id) ON DELETE CASCADE,
		media_url TEXT NOT NULL,
		media_type TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_template_media_template ON template_media(template_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notification_logs (
		id TEXT PRIMARY KEY,
		guest_name TEXT NOT NULL DEFAULT '',
		guest_id TEXT NOT NULL DEFAULT '',
		notification_type TEXT NOT NULL DEFAULT '',
		sent_to TEXT NOT NULL DEFAULT '',
		sent_via TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		provider_message_id TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_logs_created ON notification_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_logs_provider_id ON notification_logs(provider_message_id)`,
	`CREATE TABLE IF NOT EXISTS guests (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		invitation_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		confirmation_timestamp TIMESTAMP NULL,
		apology_timestamp TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guests_phone ON guests(phone_number)`,
}

// Migrate creates any missing tables and indexes.
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
