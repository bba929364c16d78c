package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

func TestIMAPFetcherFetchesMessages(t *testing.T) {
	client := &fakeIMAPClient{
		seqNums: []uint32{1, 2},
		uids:    map[uint32]imap.UID{1: 11, 2: 12},
		bodies: map[uint32][]byte{
			1: []byte("first"),
			2: []byte("second"),
		},
		internalDate: map[uint32]time.Time{
			1: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPClock(func() time.Time { return now }),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)

	acc := Account{MailboxID: 7, TenantID: 3, Protocol: "imap", Host: "mail.example", Username: "agent", Password: []byte("secret"), Folder: "INBOX"}
	total, err := f.Fetch(context.Background(), acc, h)
	require.NoError(t, err)

	require.Equal(t, 2, total)
	require.Equal(t, 1, client.logoutCalls)
	require.Len(t, h.messages, 2)
	require.Equal(t, 1, h.messages[0].SeqNum)
	require.Equal(t, "11", h.messages[0].UID)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), h.messages[0].ReceivedAt)
	require.Equal(t, now, h.messages[1].ReceivedAt)
	require.Equal(t, []byte("second"), h.messages[1].Raw)
}

func TestIMAPFetcherDeliversInSequenceOrder(t *testing.T) {
	client := &fakeIMAPClient{
		seqNums: []uint32{3, 1, 2},
		uids:    map[uint32]imap.UID{1: 11, 2: 12, 3: 13},
		bodies: map[uint32][]byte{
			1: []byte("a"), 2: []byte("b"), 3: []byte("c"),
		},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, h)
	require.NoError(t, err)
	require.Len(t, h.messages, 3)
	require.Equal(t, 1, h.messages[0].SeqNum)
	require.Equal(t, 2, h.messages[1].SeqNum)
	require.Equal(t, 3, h.messages[2].SeqNum)
}

func TestIMAPFetcherStopsOnHandlerError(t *testing.T) {
	client := &fakeIMAPClient{
		seqNums: []uint32{1, 2},
		uids:    map[uint32]imap.UID{1: 11, 2: 12},
		bodies:  map[uint32][]byte{1: []byte("first"), 2: []byte("second")},
	}
	h := &recordingHandler{failUID: "12"}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	acc := Account{Protocol: "imap", Host: "mail.example", Username: "agent", Password: []byte("secret")}
	total, err := f.Fetch(context.Background(), acc, h)
	require.Error(t, err)
	require.Equal(t, 2, total)
	require.Zero(t, client.storeCalls)
	require.Len(t, h.messages, 1)
}

func TestIMAPFetcherEmptyMailboxNoError(t *testing.T) {
	client := &fakeIMAPClient{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	total, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, client.storeCalls)
}

func TestIMAPFetcherValidation(t *testing.T) {
	cases := []Account{
		{Protocol: "imap", Password: []byte("pw")},
		{Protocol: "imap", Username: "user"},
		{Protocol: "pop3", Username: "user", Password: []byte("pw")},
	}
	f := NewIMAPFetcher()
	for _, acc := range cases {
		if _, err := f.Fetch(context.Background(), acc, &recordingHandler{}); err == nil {
			t.Fatalf("expected validation error for account %+v", acc)
		}
	}
}

func TestIMAPFetcherRequiresHandler(t *testing.T) {
	f := NewIMAPFetcher()
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	if _, err := f.Fetch(context.Background(), acc, nil); err == nil {
		t.Fatalf("expected handler required error")
	}
}

func TestIMAPFetcherDeleteAfterFetch(t *testing.T) {
	client := &fakeIMAPClient{
		seqNums: []uint32{1},
		uids:    map[uint32]imap.UID{1: 11},
		bodies:  map[uint32][]byte{1: []byte("body")},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPDeleteAfterFetch(true),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, h)
	require.NoError(t, err)
	require.Equal(t, 1, client.storeCalls)
	require.Equal(t, 1, client.expungeCalls)
}

func TestIMAPFetcherSkipsDeletionByDefault(t *testing.T) {
	client := &fakeIMAPClient{
		seqNums: []uint32{1},
		uids:    map[uint32]imap.UID{1: 11},
		bodies:  map[uint32][]byte{1: []byte("body")},
	}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.NoError(t, err)
	require.Zero(t, client.storeCalls)
	require.Zero(t, client.expungeCalls)
}

func TestIMAPFetcherAuthAndSelectErrors(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{loginErr: errors.New("bad creds")}, nil
	}))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorContains(t, err, "imap auth")

	f = NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{selectErr: errors.New("no inbox")}, nil
	}))
	_, err = f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorContains(t, err, "imap select")
}

func TestIMAPFetcherConnectErrorWrapped(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorContains(t, err, "imap connect")
}

func TestIMAPEncryptionMapping(t *testing.T) {
	require.Equal(t, "ssl", imapEncryption("ssl"))
	require.Equal(t, "ssl", imapEncryption(" SSL/TLS "))
	require.Equal(t, "tls", imapEncryption("tls"))
	require.Equal(t, "tls", imapEncryption("STARTTLS"))
	require.Equal(t, "none", imapEncryption("none"))
	require.Equal(t, "none", imapEncryption("garbage"))
	require.Equal(t, "none", imapEncryption(""))
}

type fakeIMAPClient struct {
	seqNums      []uint32
	uids         map[uint32]imap.UID
	bodies       map[uint32][]byte
	internalDate map[uint32]time.Time

	loginErr   error
	selectErr  error
	fetchErr   error
	storeErr   error
	expungeErr error
	logoutErr  error

	storeCalls   int
	expungeCalls int
	logoutCalls  int
	closed       bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	data := &imap.SelectData{NumMessages: uint32(len(c.seqNums))}
	return &fakeSelect{err: c.selectErr, data: data}
}
func (c *fakeIMAPClient) Fetch(_ imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		for _, seq := range c.seqNums {
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       seq,
				UID:          c.uids[seq],
				InternalDate: c.internalDate[seq],
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: &imap.FetchItemBodySection{},
					Bytes:   append([]byte(nil), c.bodies[seq]...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}
func (c *fakeIMAPClient) Store(_ imap.NumSet, _ *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.storeCalls++
	return &fakeFetch{err: c.storeErr}
}
func (c *fakeIMAPClient) Expunge() expungeWaiter {
	c.expungeCalls++
	return &fakeExpunge{err: c.expungeErr}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct {
	err  error
	data *imap.SelectData
}

func (s *fakeSelect) Wait() (*imap.SelectData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type fakeExpunge struct{ err error }

func (e *fakeExpunge) Close() error { return e.err }
