package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the inbound sweep pipeline. A nil *Metrics is safe to call,
// so tests and the ad hoc CLI path can skip registration.
type Metrics struct {
	messagesProcessed prometheus.Counter
	ticketsCreated    prometheus.Counter
	duplicatesSkipped prometheus.Counter
	messageFailures   prometheus.Counter
	tenantFailures    prometheus.Counter
	sweepDuration     prometheus.Histogram
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_messages_processed_total",
			Help: "Inbound messages examined across all tenants.",
		}),
		ticketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_tickets_created_total",
			Help: "Tickets materialized from inbound messages.",
		}),
		duplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_duplicates_skipped_total",
			Help: "Messages skipped by the dedup guard.",
		}),
		messageFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_message_failures_total",
			Help: "Messages that failed parsing or ticket creation.",
		}),
		tenantFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailroom_tenant_failures_total",
			Help: "Tenant batches aborted by connection-level failures.",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailroom_sweep_duration_seconds",
			Help:    "Wall time of one full sweep run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) MessageProcessed() {
	if m != nil {
		m.messagesProcessed.Inc()
	}
}

func (m *Metrics) TicketCreated() {
	if m != nil {
		m.ticketsCreated.Inc()
	}
}

func (m *Metrics) DuplicateSkipped() {
	if m != nil {
		m.duplicatesSkipped.Inc()
	}
}

func (m *Metrics) MessageFailed() {
	if m != nil {
		m.messageFailures.Inc()
	}
}

func (m *Metrics) TenantFailed() {
	if m != nil {
		m.tenantFailures.Inc()
	}
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m != nil {
		m.sweepDuration.Observe(seconds)
	}
}
