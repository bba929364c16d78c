package postmaster

import (
	"time"
)

// TenantResult tracks what happened to one tenant's batch. A connection-level
// failure sets Err; message-scoped failures only bump Failures.
type TenantResult struct {
	TenantID   int64
	MailboxID  int64
	Total      int
	Processed  int
	Created    int
	Duplicates int
	Failures   int
	Skipped    bool
	SkipReason string
	Err        error
}

// SweepResult aggregates one full run across tenants.
type SweepResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Tenants   []TenantResult
}

// Created sums tickets created across all tenants.
func (r SweepResult) Created() int {
	total := 0
	for _, t := range r.Tenants {
		total += t.Created
	}
	return total
}

// Failed counts tenant batches that hit a connection-level failure.
func (r SweepResult) Failed() int {
	total := 0
	for _, t := range r.Tenants {
		if t.Err != nil {
			total++
		}
	}
	return total
}
