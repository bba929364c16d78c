package connector

import (
	"fmt"
	"strings"
	"sync"
)

// FactoryOption customizes a connector factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewFactory builds a connector factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// DefaultFactory returns a factory preloaded with built-in connectors.
func DefaultFactory(opts ...IMAPFetcherOption) Factory {
	return NewFactory(
		WithFetcher(NewIMAPFetcher(opts...), "imap"),
		WithFetcher(NewPOP3Fetcher(), "pop3"),
	)
}

// WithFetcher registers a fetcher for the provided protocols.
func WithFetcher(fetcher Fetcher, protocols ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || fetcher == nil {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range protocols {
			key := normalizeProtocol(p)
			if key == "" {
				continue
			}
			f.fetchers[key] = fetcher
		}
	}
}

func (f *simpleFactory) FetcherFor(account Account) (Fetcher, error) {
	key := normalizeProtocol(account.Protocol)
	f.mu.RLock()
	fetcher, ok := f.fetchers[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for protocol %s", account.Protocol)
	}
	return fetcher, nil
}

func normalizeProtocol(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
