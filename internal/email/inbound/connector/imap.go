package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Expunge() expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type expungeWaiter interface{ Close() error }

// IMAPFetcher streams IMAP mailboxes into the inbound pipeline.
type IMAPFetcher struct {
	deleteAfterFetch bool
	dialTimeout      time.Duration
	now              func() time.Time
	logger           *log.Logger
	newClient        func(Account) (imapClient, error)
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector ready for sweep polling. Messages
// are left on the server unless delete-after-fetch is enabled.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
		deleteAfterFetch: false,
		dialTimeout:      15 * time.Second,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           log.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPDeleteAfterFetch toggles destructive IMAP behavior.
func WithIMAPDeleteAfterFetch(delete bool) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

func withIMAPClientFactory(factory func(Account) (imapClient, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Fetch drains one tenant's IMAP mailbox and hands each message to the
// provided handler in ascending sequence order. The session is closed on every
// return path.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) (int, error) {
	if handler == nil {
		return 0, errors.New("imap fetcher requires a handler")
	}
	if err := validateIMAPAccount(account); err != nil {
		return 0, err
	}

	client, err := f.newClient(account)
	if err != nil {
		return 0, fmt.Errorf("imap connect: %w", err)
	}
	defer f.safeClose(client)

	if err := client.Login(account.Username, string(account.Password)).Wait(); err != nil {
		return 0, fmt.Errorf("imap auth: %w", err)
	}

	mailbox := account.Folder
	if mailbox == "" {
		mailbox = "INBOX"
	}
	selectData, err := client.Select(mailbox, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("imap select %s: %w", mailbox, err)
	}
	total := 0
	if selectData != nil {
		total = int(selectData.NumMessages)
	}
	if total == 0 {
		if err := client.Logout().Wait(); err != nil {
			return 0, fmt.Errorf("imap logout: %w", err)
		}
		return 0, nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, uint32(total))
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	fetchBuffers, err := client.Fetch(seqSet, fetchOpts).Collect()
	if err != nil {
		return 0, fmt.Errorf("imap fetch: %w", err)
	}
	sort.Slice(fetchBuffers, func(i, j int) bool {
		return fetchBuffers[i].SeqNum < fetchBuffers[j].SeqNum
	})

	for _, buf := range fetchBuffers {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		body := buf.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			continue
		}
		received := buf.InternalDate
		if received.IsZero() {
			received = f.now()
		}
		uidStr := fmt.Sprintf("%d", buf.UID)
		msg := &FetchedMessage{
			Connector:  f.Name(),
			SeqNum:     int(buf.SeqNum),
			UID:        uidStr,
			RemoteID:   buildRemoteID(account, uidStr),
			ReceivedAt: received,
			SizeBytes:  int64(len(body)),
			Raw:        append([]byte(nil), body...),
			Metadata: map[string]string{
				"imap_uid":    uidStr,
				"imap_folder": mailbox,
			},
		}
		msg.WithAccount(account)
		if err := handler.Handle(ctx, msg); err != nil {
			return total, fmt.Errorf("sweep handler failed for %s: %w", uidStr, err)
		}
	}

	if f.deleteAfterFetch {
		store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}}
		if err := client.Store(seqSet, store, nil).Close(); err != nil {
			return total, fmt.Errorf("imap store delete: %w", err)
		}
		if err := client.Expunge().Close(); err != nil {
			return total, fmt.Errorf("imap expunge: %w", err)
		}
	}

	if err := client.Logout().Wait(); err != nil {
		return total, fmt.Errorf("imap logout: %w", err)
	}

	return total, nil
}

func (f *IMAPFetcher) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && f.logger != nil {
		f.logger.Printf("imap close error: %v", err)
	}
}

func (f *IMAPFetcher) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if imapEncryption(account.Encryption) == "ssl" {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	var client *imapclient.Client
	var err error
	switch imapEncryption(account.Encryption) {
	case "ssl":
		client, err = imapclient.DialTLS(addr, opts)
	case "tls":
		client, err = imapclient.DialStartTLS(addr, opts)
	default:
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) Expunge() expungeWaiter { return w.Client.Expunge() }

func validateIMAPAccount(account Account) error {
	if account.Username == "" {
		return errors.New("imap account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("imap account missing password")
	}
	if !strings.EqualFold(strings.TrimSpace(account.Protocol), "imap") {
		return fmt.Errorf("protocol %s not supported by IMAP connector", account.Protocol)
	}
	return nil
}

// imapEncryption maps the configured mode to a dial strategy: ssl selects an
// implicit TLS dial, tls a plaintext dial upgraded via STARTTLS, and none an
// explicit plaintext dial. Unrecognized values fall through to plaintext.
func imapEncryption(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "ssl", "ssl/tls", "imaps":
		return "ssl"
	case "tls", "starttls":
		return "tls"
	default:
		return "none"
	}
}
