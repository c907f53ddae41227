// Package metrics defines the Prometheus collectors exported by the
// box-spread session on its /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FillsTotal counts maker fills applied to the ledger, by slot
	// (trap_yes, trap_no, hedge) and outcome.
	FillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxspread_fills_total",
		Help: "Number of maker fills applied to the ledger, by slot and outcome.",
	}, []string{"slot", "outcome"})

	// PlaceErrors counts failed order placements, by kind (trap, hedge,
	// flatten) and outcome.
	PlaceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxspread_place_errors_total",
		Help: "Number of failed order placement attempts, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// CancelErrors counts failed cancel attempts, by kind (trap, hedge, market).
	CancelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxspread_cancel_errors_total",
		Help: "Number of failed cancel attempts, by kind.",
	}, []string{"kind"})

	// CompletedRounds reports the active session's completed box count.
	CompletedRounds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxspread_completed_rounds",
		Help: "Number of completed box-spread rounds in the active session.",
	})

	// LockedProfit reports the active session's cumulative locked profit,
	// in collateral units.
	LockedProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxspread_locked_profit",
		Help: "Cumulative locked profit of the active session, in collateral units.",
	})

	// DeltaQ reports the active session's current inventory imbalance.
	DeltaQ = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxspread_delta_q",
		Help: "Current signed inventory imbalance (q_yes - q_no) of the active session.",
	})

	// CooldownActive reports 1 while the session is inside an
	// emergency-triggered cooldown window, 0 otherwise.
	CooldownActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxspread_cooldown_active",
		Help: "1 while the session is within a post-emergency cooldown window, 0 otherwise.",
	})
)

func init() {
	prometheus.MustRegister(
		FillsTotal,
		PlaceErrors,
		CancelErrors,
		CompletedRounds,
		LockedProfit,
		DeltaQ,
		CooldownActive,
	)
}
