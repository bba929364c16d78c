package connector

import (
	"context"
	"time"
)

// Account carries the minimal set of fields a connector needs to open one
// tenant's mailbox.
type Account struct {
	MailboxID  int64
	TenantID   int64
	Protocol   string // imap, pop3
	Host       string
	Port       int
	Encryption string // ssl, tls, none
	Folder     string
	Username   string
	Password   []byte
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	TenantID   int64
	Connector  string
	SeqNum     int    // 1-based position within this mailbox session
	UID        string // protocol-stable identifier when the server provides one
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.TenantID = acc.TenantID
}

// Handler receives fully fetched messages and hands them to the sweeper.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// Fetcher implementations (IMAP, POP3) stream a mailbox to a handler in
// ascending sequence order and report the total message count seen.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) (int, error)
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}
