// Package postmaster drives the inbound email-to-ticket pipeline: it fans out
// over tenant mailboxes, parses and repairs each message, deduplicates, and
// materializes support tickets. Failures are absorbed at the narrowest scope
// that preserves forward progress: message, then tenant, then run.
package postmaster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crmdesk-io/mailroom/internal/email/inbound/connector"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/extract"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/rawsubject"
	"github.com/crmdesk-io/mailroom/internal/email/inbound/sanitize"
	"github.com/crmdesk-io/mailroom/internal/metrics"
	"github.com/crmdesk-io/mailroom/internal/models"
	"github.com/crmdesk-io/mailroom/internal/repository"
)

type mailboxSource interface {
	ListPollingEnabled(ctx context.Context) ([]models.Mailbox, error)
	GetForTenant(ctx context.Context, tenantID int64) (*models.Mailbox, error)
	RecordCheck(ctx context.Context, mailboxID int64, ok bool, checkErr string) error
}

type ticketCreator interface {
	Create(ctx context.Context, input models.CreateTicketInput) (*models.Ticket, error)
}

type ticketFinder interface {
	ExistsBySource(ctx context.Context, tenantID int64, source, sourceID string) (bool, error)
}

type processedStore interface {
	Seen(ctx context.Context, tenantID int64, key string) (bool, error)
	MarkProcessed(ctx context.Context, tenantID int64, key string, ticketID *int64) error
}

type tenantLocker interface {
	Acquire(ctx context.Context, tenantID int64) (release func(), ok bool, err error)
}

const (
	defaultTenantWorkers = 4
	defaultStatusID      = 1
	defaultPriorityID    = 3
	defaultCategoryID    = 1
)

// Sweeper owns one full pass over the tenant mailbox pool.
type Sweeper struct {
	mailboxes mailboxSource
	tickets   ticketCreator
	finder    ticketFinder
	processed processedStore
	factory   connector.Factory
	locker    tenantLocker
	extractor *extract.Extractor
	sanitizer *sanitize.Sanitizer
	metrics   *metrics.Metrics
	logger    *log.Logger

	tenantWorkers int
	statusID      int
	priorityID    int
	categoryID    int
	now           func() time.Time
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// NewSweeper wires the pipeline. The mailbox source and ticket creator are
// required; everything else has defaults.
func NewSweeper(mailboxes mailboxSource, tickets ticketCreator, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		mailboxes:     mailboxes,
		tickets:       tickets,
		factory:       connector.DefaultFactory(),
		extractor:     extract.New(),
		sanitizer:     sanitize.New(),
		logger:        log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
		tenantWorkers: defaultTenantWorkers,
		statusID:      defaultStatusID,
		priorityID:    defaultPriorityID,
		categoryID:    defaultCategoryID,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithTicketFinder wires the same-run positional dedup lookup.
func WithTicketFinder(f ticketFinder) SweeperOption {
	return func(s *Sweeper) {
		if f != nil {
			s.finder = f
		}
	}
}

// WithProcessedStore wires the durable Message-ID dedup store.
func WithProcessedStore(store processedStore) SweeperOption {
	return func(s *Sweeper) {
		if store != nil {
			s.processed = store
		}
	}
}

// WithConnectorFactory overrides the connector factory.
func WithConnectorFactory(factory connector.Factory) SweeperOption {
	return func(s *Sweeper) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// WithTenantLock wires the advisory per-tenant sweep lock.
func WithTenantLock(locker tenantLocker) SweeperOption {
	return func(s *Sweeper) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithMetrics wires pipeline metrics.
func WithMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithLogger overrides the sweep logger.
func WithLogger(logger *log.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTenantWorkers bounds how many tenant mailboxes are swept concurrently.
func WithTenantWorkers(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.tenantWorkers = n
		}
	}
}

// WithTicketDefaults sets the status, priority, and category assigned to
// materialized tickets.
func WithTicketDefaults(statusID, priorityID, categoryID int) SweeperOption {
	return func(s *Sweeper) {
		if statusID > 0 {
			s.statusID = statusID
		}
		if priorityID > 0 {
			s.priorityID = priorityID
		}
		if categoryID > 0 {
			s.categoryID = categoryID
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweep runs one pass. With a tenant id it sweeps only that tenant (the ad
// hoc path); otherwise every polling-enabled mailbox is due. Tenants are
// swept by a bounded worker pool; one tenant's failure never aborts another's
// batch. The returned error reflects only run-level problems (mailbox listing,
// cancellation), mirroring the message > tenant > job recovery ladder.
func (s *Sweeper) Sweep(ctx context.Context, tenantID *int64) (SweepResult, error) {
	start := s.now()
	result := SweepResult{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	mailboxes, skipped, err := s.dueMailboxes(ctx, tenantID)
	result.Tenants = append(result.Tenants, skipped...)
	if err != nil {
		return result, err
	}
	if len(mailboxes) == 0 {
		result.Duration = s.now().Sub(start)
		s.metrics.ObserveSweep(result.Duration.Seconds())
		return result, nil
	}

	results := make([]TenantResult, len(mailboxes))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.tenantWorkers)
	for i, mb := range mailboxes {
		i, mb := i, mb
		g.Go(func() error {
			results[i] = s.sweepTenant(groupCtx, mb)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.Tenants = append(result.Tenants, results...)
	result.Duration = s.now().Sub(start)
	s.metrics.ObserveSweep(result.Duration.Seconds())

	s.logf("run %s: %d tenants, %d tickets created in %v",
		result.RunID, len(result.Tenants), result.Created(), result.Duration)
	return result, ctx.Err()
}

// dueMailboxes resolves which mailboxes this run covers. A missing or
// polling-disabled mailbox for an explicitly targeted tenant is a warning and
// a skip, not an error.
func (s *Sweeper) dueMailboxes(ctx context.Context, tenantID *int64) ([]models.Mailbox, []TenantResult, error) {
	if tenantID == nil {
		mailboxes, err := s.mailboxes.ListPollingEnabled(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list due mailboxes: %w", err)
		}
		return mailboxes, nil, nil
	}

	mailbox, err := s.mailboxes.GetForTenant(ctx, *tenantID)
	if errors.Is(err, repository.ErrMailboxNotFound) {
		s.logf("tenant %d has no mailbox configured, skipping", *tenantID)
		return nil, []TenantResult{{TenantID: *tenantID, Skipped: true, SkipReason: "no mailbox configured"}}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load mailbox for tenant %d: %w", *tenantID, err)
	}
	if !mailbox.PollingEnabled {
		s.logf("tenant %d mailbox polling disabled, skipping", *tenantID)
		return nil, []TenantResult{{TenantID: *tenantID, MailboxID: mailbox.ID, Skipped: true, SkipReason: "polling disabled"}}, nil
	}
	return []models.Mailbox{*mailbox}, nil, nil
}

// sweepTenant owns one tenant's mailbox session from connect to close.
func (s *Sweeper) sweepTenant(ctx context.Context, mailbox models.Mailbox) TenantResult {
	result := TenantResult{TenantID: mailbox.TenantID, MailboxID: mailbox.ID}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, mailbox.TenantID)
		if err != nil {
			s.logf("tenant %d lock error, sweeping without lock: %v", mailbox.TenantID, err)
		} else if !ok {
			result.Skipped = true
			result.SkipReason = "sweep already in progress"
			return result
		} else {
			defer release()
		}
	}

	account := accountFromMailbox(mailbox)
	fetcher, err := s.factory.FetcherFor(account)
	if err != nil {
		return s.failTenant(ctx, result, err)
	}

	handler := &tenantHandler{sweeper: s, result: &result}
	total, err := fetcher.Fetch(ctx, account, handler)
	result.Total = total
	if err != nil {
		return s.failTenant(ctx, result, err)
	}

	if err := s.mailboxes.RecordCheck(ctx, mailbox.ID, true, ""); err != nil {
		s.logf("tenant %d: record check failed: %v", mailbox.TenantID, err)
	}
	return result
}

// failTenant records the connection-level failure on the mailbox row and
// closes out the tenant's batch; remaining messages wait for the next run.
func (s *Sweeper) failTenant(ctx context.Context, result TenantResult, err error) TenantResult {
	result.Err = err
	s.metrics.TenantFailed()
	s.logf("tenant %d batch aborted: %v", result.TenantID, err)
	if recordErr := s.mailboxes.RecordCheck(ctx, result.MailboxID, false, err.Error()); recordErr != nil {
		s.logf("tenant %d: record check failed: %v", result.TenantID, recordErr)
	}
	return result
}

// tenantHandler receives messages from the connector and absorbs
// message-scoped failures so the batch keeps moving.
type tenantHandler struct {
	sweeper *Sweeper
	result  *TenantResult
}

func (h *tenantHandler) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	h.sweeper.metrics.MessageProcessed()
	h.result.Processed++

	created, duplicate, err := h.sweeper.processMessage(ctx, msg)
	switch {
	case err != nil:
		h.result.Failures++
		h.sweeper.metrics.MessageFailed()
		h.sweeper.logf("tenant %d message %d failed: %v", msg.TenantID, msg.SeqNum, err)
	case duplicate:
		h.result.Duplicates++
		h.sweeper.metrics.DuplicateSkipped()
	case created:
		h.result.Created++
		h.sweeper.metrics.TicketCreated()
	}
	return nil
}

// processMessage runs one message through parse, repair, sanitize, dedup, and
// ticket creation.
func (s *Sweeper) processMessage(ctx context.Context, msg *connector.FetchedMessage) (created, duplicate bool, err error) {
	if msg == nil || len(msg.Raw) == 0 {
		return false, false, errors.New("empty message payload")
	}

	parsed, perr := s.extractor.Parse(msg.Raw)
	if perr != nil {
		return false, false, fmt.Errorf("parse: %w", perr)
	}

	subject, body, rawHTML, fromEmail, fromName, isHTML := s.repairAndClean(parsed)
	if strings.TrimSpace(subject) == "" {
		subject = rawsubject.DefaultSubject
	}
	subject = rawsubject.TruncateSubject(subject)

	// The key must be derived from the final subject so the Seen probe and
	// MarkProcessed agree for messages without a Message-ID.
	key := dedupKey(parsed, fromEmail, subject)

	sourceID := strconv.Itoa(msg.SeqNum)
	dup, derr := s.isDuplicate(ctx, msg.TenantID, sourceID, key)
	if derr != nil {
		return false, false, derr
	}
	if dup {
		s.logf("tenant %d message %d already processed, skipping", msg.TenantID, msg.SeqNum)
		return false, true, nil
	}

	if strings.TrimSpace(body) == "" || body == extract.PlaceholderBody {
		body = fmt.Sprintf("Email received with subject %q. The message contained no readable content.", subject)
		isHTML = false
		rawHTML = ""
	}

	ticket, cerr := s.tickets.Create(ctx, models.CreateTicketInput{
		TenantID:       msg.TenantID,
		Subject:        subject,
		Description:    body,
		RawHTML:        rawHTML,
		IsHTML:         isHTML,
		RequesterEmail: fromEmail,
		RequesterName:  fromName,
		StatusID:       s.statusID,
		PriorityID:     s.priorityID,
		CategoryID:     s.categoryID,
		Source:         models.TicketSourceEmail,
		SourceID:       sourceID,
	})
	if cerr != nil {
		return false, false, fmt.Errorf("create ticket: %w", cerr)
	}

	if s.processed != nil {
		if merr := s.processed.MarkProcessed(ctx, msg.TenantID, key, &ticket.ID); merr != nil {
			s.logf("tenant %d: mark processed failed: %v", msg.TenantID, merr)
		}
	}
	s.logf("tenant %d message %d -> ticket %s", msg.TenantID, msg.SeqNum, ticket.Number)
	return true, false, nil
}

// repairAndClean applies the raw-subject repair when the transport
// misdelivered a whole message into the subject field, then sanitizes.
func (s *Sweeper) repairAndClean(parsed extract.Email) (subject, body, rawHTML, fromEmail, fromName string, isHTML bool) {
	subject = parsed.Subject
	body = parsed.Body
	rawHTML = parsed.RawHTML
	fromEmail = parsed.FromEmail
	fromName = parsed.FromName
	isHTML = parsed.IsHTML

	if detected, _ := rawsubject.Detect(subject); detected {
		repaired := rawsubject.Extract(subject)
		subject = repaired.Subject
		if strings.TrimSpace(repaired.Body) != "" {
			body = repaired.Body
			isHTML = sanitize.IsHTML(body)
			if isHTML {
				rawHTML = body
			} else {
				rawHTML = ""
			}
		}
		if repaired.From != "" {
			fromEmail = repaired.From
			fromName = ""
		}
	}

	if !isHTML {
		isHTML = sanitize.IsHTML(body)
		if isHTML && rawHTML == "" {
			rawHTML = body
		}
	}
	body = s.sanitizer.Clean(body, isHTML)
	return subject, body, rawHTML, fromEmail, fromName, isHTML
}

// isDuplicate consults both guards: the durable per-tenant Message-ID store
// (survives reordering across runs) and the positional same-run ticket lookup.
func (s *Sweeper) isDuplicate(ctx context.Context, tenantID int64, sourceID, key string) (bool, error) {
	if s.processed != nil {
		seen, err := s.processed.Seen(ctx, tenantID, key)
		if err != nil {
			return false, fmt.Errorf("dedup lookup: %w", err)
		}
		if seen {
			return true, nil
		}
	}
	if s.finder != nil {
		exists, err := s.finder.ExistsBySource(ctx, tenantID, models.TicketSourceEmail, sourceID)
		if err != nil {
			return false, fmt.Errorf("ticket source lookup: %w", err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// dedupKey prefers the stable Message-ID; messages without one fall back to a
// content hash of sender, subject, and date.
func dedupKey(parsed extract.Email, fromEmail, subject string) string {
	if parsed.MessageID != "" {
		return "mid:" + parsed.MessageID
	}
	sum := sha256.Sum256([]byte(fromEmail + "\x00" + subject + "\x00" + parsed.Date.UTC().Format(time.RFC3339)))
	return "sha:" + hex.EncodeToString(sum[:])
}

func accountFromMailbox(mb models.Mailbox) connector.Account {
	return connector.Account{
		MailboxID:  mb.ID,
		TenantID:   mb.TenantID,
		Protocol:   mb.Protocol,
		Host:       mb.Host,
		Port:       mb.Port,
		Encryption: mb.Encryption,
		Folder:     mb.Folder,
		Username:   mb.Username,
		Password:   []byte(mb.Password),
	}
}

func (s *Sweeper) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
