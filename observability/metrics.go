package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RiskMetrics tracks engine decisions and the daemon's HTTP surface.
type RiskMetrics struct {
	decisions  *prometheus.CounterVec
	flashLoans *prometheus.CounterVec
	rewards    prometheus.Counter
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	riskMetricsOnce sync.Once
	riskRegistry    *RiskMetrics
)

// Risk returns the lazily-initialised metrics registry for the risk engine.
func Risk() *RiskMetrics {
	riskMetricsOnce.Do(func() {
		riskRegistry = &RiskMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crosslend",
				Subsystem: "risk",
				Name:      "decisions_total",
				Help:      "Engine allow/deny decisions segmented by operation and result code.",
			}, []string{"operation", "code"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crosslend",
				Subsystem: "risk",
				Name:      "flash_loans_total",
				Help:      "Flash loan executions segmented by outcome.",
			}, []string{"outcome"}),
			rewards: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crosslend",
				Subsystem: "risk",
				Name:      "reward_claims_total",
				Help:      "Successful reward claims.",
			}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crosslend",
				Subsystem: "riskd",
				Name:      "http_requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crosslend",
				Subsystem: "riskd",
				Name:      "http_request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			riskRegistry.decisions,
			riskRegistry.flashLoans,
			riskRegistry.rewards,
			riskRegistry.requests,
			riskRegistry.latency,
		)
	})
	return riskRegistry
}

// ObserveDecision records one engine decision.
func (m *RiskMetrics) ObserveDecision(operation, code string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(operation, code).Inc()
}

// ObserveFlashLoan records a flash loan execution outcome.
func (m *RiskMetrics) ObserveFlashLoan(success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	m.flashLoans.WithLabelValues(outcome).Inc()
}

// ObserveRewardClaim records a successful reward claim.
func (m *RiskMetrics) ObserveRewardClaim() {
	if m == nil {
		return
	}
	m.rewards.Inc()
}

// ObserveRequest records one served HTTP request.
func (m *RiskMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}
