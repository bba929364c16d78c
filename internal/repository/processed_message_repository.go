package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ProcessedMessageRepository is the durable dedup store. Messages are keyed
// per tenant on a stable identity (Message-ID, or a content hash when the
// header is absent) so reprocessing survives mailbox reordering across runs.
type ProcessedMessageRepository struct {
	db *sqlx.DB
}

func NewProcessedMessageRepository(db *sqlx.DB) *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: db}
}

// Seen reports whether this tenant has already produced a ticket for the key.
func (r *ProcessedMessageRepository) Seen(ctx context.Context, tenantID int64, key string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processed_messages
			WHERE tenant_id = $1 AND message_key = $2
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tenantID, key); err != nil {
		return false, fmt.Errorf("processed message lookup: %w", err)
	}
	return exists, nil
}

// MarkProcessed records the key. A concurrent run inserting the same key is
// absorbed by the conflict clause.
func (r *ProcessedMessageRepository) MarkProcessed(ctx context.Context, tenantID int64, key string, ticketID *int64) error {
	query := `
		INSERT INTO processed_messages (tenant_id, message_key, ticket_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, message_key) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, tenantID, key, ticketID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	return nil
}
