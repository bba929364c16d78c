package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crmdesk-io/mailroom/internal/models"
)

// TicketRepository is the default ticket materializer: it writes tickets
// straight into the platform's tickets table. The sweeper only depends on the
// narrow creator/finder interfaces, so the platform's richer ticket service
// can be substituted.
type TicketRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ExistsBySource reports whether a ticket already exists for this tenant,
// source, and source message identifier.
func (r *TicketRepository) ExistsBySource(ctx context.Context, tenantID int64, source, sourceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE tenant_id = $1 AND source = $2 AND source_id = $3
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tenantID, source, sourceID); err != nil {
		return false, fmt.Errorf("ticket source lookup: %w", err)
	}
	return exists, nil
}

// Create inserts the ticket and returns it with its assigned id and number.
// The ticket number is a date prefix plus a suffix drawn from the
// ticket_number_seq sequence, so same-second creations stay distinct across
// restarts and replicas.
func (r *TicketRepository) Create(ctx context.Context, input models.CreateTicketInput) (*models.Ticket, error) {
	now := r.now()

	query := `
		INSERT INTO tickets (
			tenant_id, number, subject, description, raw_html, is_html,
			requester_email, requester_name, status_id, priority_id,
			category_id, source, source_id, created_at
		) VALUES (
			$1,
			$2 || lpad((nextval('ticket_number_seq') % 100000)::text, 5, '0'),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING id, number`

	var rawHTML *string
	if input.RawHTML != "" {
		rawHTML = &input.RawHTML
	}

	var (
		id     int64
		number string
	)
	err := r.db.QueryRowContext(ctx, query,
		input.TenantID,
		now.Format("20060102150405"),
		input.Subject,
		input.Description,
		rawHTML,
		input.IsHTML,
		input.RequesterEmail,
		input.RequesterName,
		input.StatusID,
		input.PriorityID,
		input.CategoryID,
		input.Source,
		input.SourceID,
		now,
	).Scan(&id, &number)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	return &models.Ticket{
		ID:             id,
		TenantID:       input.TenantID,
		Number:         number,
		Subject:        input.Subject,
		Description:    input.Description,
		RawHTML:        rawHTML,
		IsHTML:         input.IsHTML,
		RequesterEmail: input.RequesterEmail,
		RequesterName:  input.RequesterName,
		StatusID:       input.StatusID,
		PriorityID:     input.PriorityID,
		CategoryID:     input.CategoryID,
		Source:         input.Source,
		SourceID:       input.SourceID,
		CreatedAt:      now,
	}, nil
}
