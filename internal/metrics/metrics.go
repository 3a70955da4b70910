// Package metrics registers the bot's Prometheus collectors on the default
// registry. The admin server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceswap_swaps_total",
		Help: "Swap requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	SwapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "faceswap_swap_duration_seconds",
		Help:    "Wall time of a swap including retries.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	}, []string{"kind"})

	UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceswap_upstream_attempts_total",
		Help: "Calls to the transformation service by kind and result.",
	}, []string{"kind", "result"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceswap_quota_denials_total",
		Help: "Requests refused because the daily limit was reached.",
	}, []string{"kind", "tier"})

	SessionCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceswap_session_completions_total",
		Help: "Flows returned to idle, by reason.",
	}, []string{"reason"})

	OperatorAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceswap_operator_alerts_total",
		Help: "Alerts sent to operators.",
	})

	PremiumActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceswap_premium_activations_total",
		Help: "Premium activations by source.",
	}, []string{"source"})
)
