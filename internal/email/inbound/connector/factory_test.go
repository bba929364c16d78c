package connector

import (
	"context"
	"testing"
)

type noopFetcher struct{}

func (noopFetcher) Name() string { return "noop" }

func (noopFetcher) Fetch(ctx context.Context, account Account, handler Handler) (int, error) {
	return 0, nil
}

func TestFactoryReturnsRegisteredFetcher(t *testing.T) {
	fetcher := noopFetcher{}
	factory := NewFactory(WithFetcher(fetcher, "Pop3"))

	connFetcher, err := factory.FetcherFor(Account{Protocol: "POP3"})
	if err != nil {
		t.Fatalf("expected fetcher, got error %v", err)
	}
	if connFetcher.Name() != "noop" {
		t.Fatalf("unexpected fetcher %s", connFetcher.Name())
	}
}

func TestFactoryRejectsUnknownProtocol(t *testing.T) {
	factory := DefaultFactory()
	if _, err := factory.FetcherFor(Account{Protocol: "nntp"}); err == nil {
		t.Fatal("expected error for unregistered protocol")
	}
}

func TestDefaultFactoryCoversBuiltins(t *testing.T) {
	factory := DefaultFactory()
	for _, proto := range []string{"imap", "IMAP", "pop3", " POP3 "} {
		if _, err := factory.FetcherFor(Account{Protocol: proto}); err != nil {
			t.Fatalf("expected fetcher for %q, got %v", proto, err)
		}
	}
}
