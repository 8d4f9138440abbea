package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hookDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cobble_hook_dispatches_total",
			Help: "Total number of hook dispatches",
		},
		[]string{"session", "event"},
	)

	hookDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cobble_hook_dispatch_duration_seconds",
			Help:    "Hook tree execution time in seconds",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"session", "event"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cobble_actions_total",
			Help: "Total number of executed actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cobble_transactions_total",
			Help: "Total number of shop transactions by terminal state",
		},
		[]string{"session", "state"},
	)

	transactionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cobble_transactions_active",
			Help: "Number of live shop transactions",
		},
		[]string{"session"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cobble_transaction_duration_seconds",
			Help:    "Time from quote to terminal state",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120, 300},
		},
		[]string{"session", "state"},
	)

	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cobble_session_state",
			Help: "Current session state (1 for the active state label)",
		},
		[]string{"session", "state"},
	)

	sessionRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cobble_session_restarts_total",
			Help: "Total number of automatic reconnects",
		},
		[]string{"session"},
	)
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordDispatch(session, event string, duration time.Duration) {
	hookDispatchesTotal.WithLabelValues(session, event).Inc()
	hookDispatchDuration.WithLabelValues(session, event).Observe(duration.Seconds())
}

func RecordAction(action, outcome string) {
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

func TransactionStarted(session string) {
	transactionsActive.WithLabelValues(session).Inc()
}

func TransactionFinished(session, state string, duration time.Duration) {
	transactionsActive.WithLabelValues(session).Dec()
	transactionsTotal.WithLabelValues(session, state).Inc()
	transactionDuration.WithLabelValues(session, state).Observe(duration.Seconds())
}

// SetSessionState marks state as the session's current state.
func SetSessionState(session, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(session, s).Set(v)
	}
}

func RecordRestart(session string) {
	sessionRestarts.WithLabelValues(session).Inc()
}
