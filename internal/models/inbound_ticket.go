package models

import (
	"time"
)

// TicketSourceEmail marks tickets materialized by the inbound mail sweep.
const TicketSourceEmail = "email"

// Ticket is the pipeline's view of a support ticket. Only the columns this
// service reads or writes are modeled; the platform owns the full schema.
type Ticket struct {
	ID             int64     `json:"id" db:"id"`
	TenantID       int64     `json:"tenant_id" db:"tenant_id"`
	Number         string    `json:"number" db:"number"`
	Subject        string    `json:"subject" db:"subject"`
	Description    string    `json:"description" db:"description"`
	RawHTML        *string   `json:"raw_html,omitempty" db:"raw_html"`
	IsHTML         bool      `json:"is_html" db:"is_html"`
	RequesterEmail string    `json:"requester_email" db:"requester_email"`
	RequesterName  string    `json:"requester_name" db:"requester_name"`
	StatusID       int       `json:"status_id" db:"status_id"`
	PriorityID     int       `json:"priority_id" db:"priority_id"`
	CategoryID     int       `json:"category_id" db:"category_id"`
	Source         string    `json:"source" db:"source"`
	SourceID       string    `json:"source_id" db:"source_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CreateTicketInput is the payload handed to the ticket materializer.
type CreateTicketInput struct {
	TenantID       int64
	Subject        string
	Description    string
	RawHTML        string
	IsHTML         bool
	RequesterEmail string
	RequesterName  string
	StatusID       int
	PriorityID     int
	CategoryID     int
	Source         string
	SourceID       string
}

// ProcessedMessage is the durable per-tenant dedup record for one inbound
// message, keyed on the stable Message-ID (or a content hash when absent).
type ProcessedMessage struct {
	ID          int64     `json:"id" db:"id"`
	TenantID    int64     `json:"tenant_id" db:"tenant_id"`
	MessageKey  string    `json:"message_key" db:"message_key"`
	TicketID    *int64    `json:"ticket_id,omitempty" db:"ticket_id"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
