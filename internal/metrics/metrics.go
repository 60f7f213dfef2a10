// Package metrics holds the Prometheus collectors for the task core. They are
// registered on the default registry and served by promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Transitions counts transition attempts by target status and outcome.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "task",
	Name:      "transitions_total",
	Help:      "Task transition attempts by target status and result.",
}, []string{"to", "result"})

// Claims counts campfire claim attempts by outcome (won, already_claimed, rejected, error).
var Claims = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "task",
	Name:      "claims_total",
	Help:      "Campfire claim attempts by result.",
}, []string{"result"})

// ─── Ledger ─────────────────────────────────────────────────────────────────

var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Ledger transactions applied by reason.",
}, []string{"reason"})

var LedgerReplays = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "ledger",
	Name:      "idempotent_replays_total",
	Help:      "Ledger transactions skipped because their idempotency key was already recorded.",
})

var LedgerIntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "ledger",
	Name:      "integrity_violations_total",
	Help:      "Accounts frozen because the materialized balance disagreed with the transaction log.",
})

// ─── Cashouts and gamification ──────────────────────────────────────────────

var Cashouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "cashout",
	Name:      "requests_total",
	Help:      "Cashout requests by resulting status.",
}, []string{"status"})

var XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "gamification",
	Name:      "xp_awarded_total",
	Help:      "XP awarded to contractors for closed tasks.",
})

// ─── Outbound webhooks ──────────────────────────────────────────────────────

// WebhookDeliveries counts calls to the notification and payout collaborators.
var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campfire",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Outbound webhook calls by target and result.",
}, []string{"target", "result"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "campfire",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route pattern and status code.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// Result labels shared by the counters above.
const (
	ResultOK             = "ok"
	ResultRejected       = "rejected"
	ResultError          = "error"
	ResultWon            = "won"
	ResultAlreadyClaimed = "already_claimed"
)
