// Package metrics holds the Prometheus collectors shared by the credit services.
// Collectors register on the default registry and are served by promhttp.Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credit"

// Reservation outcomes
const (
	ReserveHeld         = "held"
	ReserveReplayed     = "replayed"
	ReserveInsufficient = "insufficient"
	ReserveError        = "error"
)

var ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reservation",
	Name:      "reserve_total",
	Help:      "Reserve calls by outcome.",
}, []string{"outcome"})

var ReservationsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reservation",
	Name:      "resolved_total",
	Help:      "Reservations moved to a terminal status.",
}, []string{"status", "reason"})

var ReservedCredits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reservation",
	Name:      "held_credits_total",
	Help:      "Credits placed on hold.",
})

var ReservationsSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reservation",
	Name:      "swept_total",
	Help:      "Expired holds released by the sweeper.",
})

var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "entries_total",
	Help:      "Ledger entries applied by type.",
}, []string{"entry_type"})

var LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "rejections_total",
	Help:      "Ledger entries refused by the balance policy.",
}, []string{"entry_type"})

var JobCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "job",
	Name:      "completions_total",
	Help:      "Job outcomes by result: succeeded, failed, replayed or conflict.",
}, []string{"result"})

var WalletRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "audit",
	Name:      "wallet_repairs_total",
	Help:      "Wallets re-projected from their ledger.",
}, []string{"trigger"})

var WalletDrifts = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "audit",
	Name:      "wallet_drifts",
	Help:      "Wallets whose cached balance differs from the ledger sum at the last audit.",
})

var OutboxMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "outbox",
	Name:      "messages_total",
	Help:      "Outbox messages handled by the poller, by status.",
}, []string{"status"})

var OutcomeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "kafka",
	Name:      "job_outcome_messages_total",
	Help:      "Job outcome messages consumed, by result.",
}, []string{"result"})

var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "operation_duration_seconds",
	Help:      "Latency of credit operations.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation"})

var HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// ObserveOperation records the time since start for the named operation
func ObserveOperation(operation string, start time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
