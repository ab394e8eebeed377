package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decisions counts terminal decisions by type (approve/deny) and outcome
// (committed/rejected/recorded).
var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mealgate_decisions_total",
	Help: "Terminal approve/deny decisions by outcome.",
}, []string{"type", "outcome"})

// Rejections counts failed approvals by authoritative reason.
var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mealgate_rejections_total",
	Help: "Rejected approvals by reason.",
}, []string{"reason"})

// SideEffectFailures counts commits whose follow-up hardware/stats/audit
// writes failed. The deduction stood; the inconsistency was surfaced, not
// rolled back.
var SideEffectFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mealgate_side_effect_failures_total",
	Help: "Committed approvals with failed follow-up writes.",
})
