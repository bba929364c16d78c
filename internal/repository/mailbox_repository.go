package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crmdesk-io/mailroom/internal/models"
)

// ErrMailboxNotFound is returned when a tenant has no mailbox configured.
var ErrMailboxNotFound = errors.New("mailbox not found")

type MailboxRepository struct {
	db *sqlx.DB
}

func NewMailboxRepository(db *sqlx.DB) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// ListPollingEnabled returns every mailbox with polling turned on, ordered by
// tenant for stable sweep ordering.
func (r *MailboxRepository) ListPollingEnabled(ctx context.Context) ([]models.Mailbox, error) {
	query := `
		SELECT id, tenant_id, protocol, host, port, encryption, folder, username,
			password, polling_enabled, last_checked_at, last_check_ok,
			last_check_error, created_at, updated_at
		FROM mailboxes
		WHERE polling_enabled = true
		ORDER BY tenant_id`

	var mailboxes []models.Mailbox
	if err := r.db.SelectContext(ctx, &mailboxes, query); err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	return mailboxes, nil
}

// GetForTenant returns one tenant's mailbox regardless of its polling flag,
// or ErrMailboxNotFound.
func (r *MailboxRepository) GetForTenant(ctx context.Context, tenantID int64) (*models.Mailbox, error) {
	query := `
		SELECT id, tenant_id, protocol, host, port, encryption, folder, username,
			password, polling_enabled, last_checked_at, last_check_ok,
			last_check_error, created_at, updated_at
		FROM mailboxes
		WHERE tenant_id = $1`

	mailbox := &models.Mailbox{}
	err := r.db.GetContext(ctx, mailbox, query, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox for tenant %d: %w", tenantID, err)
	}
	return mailbox, nil
}

// RecordCheck stores the outcome of one poll pass on the mailbox row.
func (r *MailboxRepository) RecordCheck(ctx context.Context, mailboxID int64, ok bool, checkErr string) error {
	query := `
		UPDATE mailboxes SET
			last_checked_at = $2,
			last_check_ok = $3,
			last_check_error = $4,
			updated_at = $2
		WHERE id = $1`

	var errText *string
	if checkErr != "" {
		errText = &checkErr
	}
	if _, err := r.db.ExecContext(ctx, query, mailboxID, time.Now().UTC(), ok, errText); err != nil {
		return fmt.Errorf("record mailbox check: %w", err)
	}
	return nil
}
