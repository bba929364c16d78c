package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/go-pop3"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

type pop3ConnFactory func(Account) (pop3Connection, error)

// POP3Fetcher streams POP3 mailboxes into the inbound pipeline.
type POP3Fetcher struct {
	deleteAfterFetch bool
	dialTimeout      time.Duration
	now              func() time.Time
	logger           *log.Logger
	newConn          pop3ConnFactory
}

// POP3FetcherOption customizes fetcher behavior.
type POP3FetcherOption func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 connector ready for sweep polling. Messages
// are left on the server unless delete-after-fetch is enabled.
func NewPOP3Fetcher(opts ...POP3FetcherOption) *POP3Fetcher {
	f := &POP3Fetcher{
		deleteAfterFetch: false,
		dialTimeout:      15 * time.Second,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           log.Default(),
	}
	f.newConn = f.defaultConnFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newConn == nil {
		f.newConn = f.defaultConnFactory
	}
	return f
}

// WithPOP3DeleteAfterFetch toggles destructive POP3 behavior.
func WithPOP3DeleteAfterFetch(delete bool) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.newConn = factory
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Fetch drains one tenant's POP3 mailbox and hands each message to the
// provided handler in ascending sequence order.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) (int, error) {
	if handler == nil {
		return 0, errors.New("pop3 fetcher requires a handler")
	}
	if err := validatePOP3Account(account); err != nil {
		return 0, err
	}

	conn, err := f.newConn(account)
	if err != nil {
		return 0, fmt.Errorf("pop3 connect: %w", err)
	}
	defer f.safeQuit(conn)

	if err := conn.Auth(account.Username, string(account.Password)); err != nil {
		return 0, fmt.Errorf("pop3 auth: %w", err)
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return 0, fmt.Errorf("pop3 uidl: %w", err)
	}
	total := len(msgs)
	if total == 0 {
		return 0, nil
	}

	for _, meta := range msgs {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		payload, err := conn.RetrRaw(meta.ID)
		if err != nil {
			return total, fmt.Errorf("pop3 retr %d: %w", meta.ID, err)
		}

		uid := meta.UID
		if uid == "" {
			uid = strconv.Itoa(meta.ID)
		}
		raw := append([]byte(nil), payload.Bytes()...)
		msg := &FetchedMessage{
			Connector:  f.Name(),
			SeqNum:     meta.ID,
			UID:        uid,
			RemoteID:   buildRemoteID(account, uid),
			ReceivedAt: f.now(),
			SizeBytes:  int64(len(raw)),
			Raw:        raw,
			Metadata: map[string]string{
				"uidl":    uid,
				"pop3_id": strconv.Itoa(meta.ID),
			},
		}
		if meta.Size > 0 {
			msg.Metadata["reported_size"] = strconv.Itoa(meta.Size)
		}
		msg.WithAccount(account)

		if err := handler.Handle(ctx, msg); err != nil {
			return total, fmt.Errorf("sweep handler failed for %s: %w", uid, err)
		}
		if f.deleteAfterFetch {
			if err := conn.Dele(meta.ID); err != nil {
				return total, fmt.Errorf("pop3 delete %d: %w", meta.ID, err)
			}
		}
	}

	return total, nil
}

func (f *POP3Fetcher) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil && f.logger != nil {
		f.logger.Printf("pop3 quit error: %v", err)
	}
}

func (f *POP3Fetcher) defaultConnFactory(account Account) (pop3Connection, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	useTLS := usePOP3TLS(account.Encryption)
	port := account.Port
	if port == 0 {
		if useTLS {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  useTLS,
	})
	return client.NewConn()
}

func validatePOP3Account(account Account) error {
	if account.Username == "" {
		return errors.New("pop3 account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("pop3 account missing password")
	}
	if !strings.EqualFold(strings.TrimSpace(account.Protocol), "pop3") {
		return fmt.Errorf("protocol %s not supported by POP3 connector", account.Protocol)
	}
	return nil
}

// POP3 has no mid-session upgrade in this client, so both ssl and tls select
// an implicit TLS dial.
func usePOP3TLS(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "ssl", "ssl/tls", "tls", "starttls", "pop3s":
		return true
	default:
		return false
	}
}

func buildRemoteID(account Account, uid string) string {
	if account.Username == "" {
		return fmt.Sprintf("%s:%s", account.Host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", account.Username, account.Host, uid)
}
