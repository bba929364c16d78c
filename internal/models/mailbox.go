package models

import (
	"time"
)

// Mailbox encryption modes. Anything else falls through to a plaintext dial.
const (
	EncryptionSSL  = "ssl"
	EncryptionTLS  = "tls"
	EncryptionNone = "none"
)

// Mailbox holds one tenant's inbound mail account configuration plus the
// outcome of the most recent poll.
type Mailbox struct {
	ID             int64      `json:"id" db:"id"`
	TenantID       int64      `json:"tenant_id" db:"tenant_id"`
	Protocol       string     `json:"protocol" db:"protocol"` // imap, pop3
	Host           string     `json:"host" db:"host"`
	Port           int        `json:"port" db:"port"`
	Encryption     string     `json:"encryption" db:"encryption"` // ssl, tls, none
	Folder         string     `json:"folder" db:"folder"`
	Username       string     `json:"username" db:"username"`
	Password       string     `json:"-" db:"password"`
	PollingEnabled bool       `json:"polling_enabled" db:"polling_enabled"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty" db:"last_checked_at"`
	LastCheckOK    *bool      `json:"last_check_ok,omitempty" db:"last_check_ok"`
	LastCheckError *string    `json:"last_check_error,omitempty" db:"last_check_error"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
