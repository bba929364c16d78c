package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crmdesk-io/mailroom/internal/config"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/postmaster"
	"github.com/crmdesk-io/mailroom/internal/runner"
)

// MailSweepTask polls every tenant mailbox on a schedule and turns new
// messages into tickets.
type MailSweepTask struct {
	sweeper    *postmaster.Sweeper
	schedule   string
	timeout    time.Duration
	maxRetries int
	logger     *log.Logger
}

// NewMailSweepTask creates the scheduled mailbox sweep task.
func NewMailSweepTask(sweeper *postmaster.Sweeper, cfg config.SweepConfig) runner.Task {
	return &MailSweepTask{
		sweeper:    sweeper,
		schedule:   cfg.Schedule,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     log.New(log.Writer(), "[MAIL-SWEEP] ", log.LstdFlags),
	}
}

// Name returns the task name
func (t *MailSweepTask) Name() string {
	return "mail-sweep"
}

// Schedule returns the cron schedule expression
func (t *MailSweepTask) Schedule() string {
	return t.schedule
}

// Timeout returns the task timeout
func (t *MailSweepTask) Timeout() time.Duration {
	return t.timeout
}

// Run executes one sweep across all polling-enabled mailboxes. Run-level
// failures (listing mailboxes, transient DB errors) are retried up to the
// configured limit; per-tenant and per-message failures are already absorbed
// inside the sweep and never reach this level.
func (t *MailSweepTask) Run(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= max(1, t.maxRetries); attempt++ {
		if attempt > 1 {
			t.logger.Printf("Retrying sweep (attempt %d/%d)", attempt, t.maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		result, err := t.sweeper.Sweep(ctx, nil)
		if err == nil {
			t.logSummary(result)
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		t.logger.Printf("Sweep run %s failed: %v", result.RunID, err)
	}
	return fmt.Errorf("mail sweep exhausted retries: %w", lastErr)
}

func (t *MailSweepTask) logSummary(result postmaster.SweepResult) {
	t.logger.Printf("Sweep %s complete: %d tenants, %d tickets created, %d tenant failures in %v",
		result.RunID, len(result.Tenants), result.Created(), result.Failed(), result.Duration)
	for _, tenant := range result.Tenants {
		if tenant.Err != nil {
			t.logger.Printf("Tenant %d failed: %v", tenant.TenantID, tenant.Err)
		}
	}
}
