package main

import (
	"log/slog"

	"crosslend/core/events"
	"crosslend/observability"
)

// metricsEmitter feeds engine events into the prometheus registry and logs
// them, so every state change the daemon applies is visible downstream.
type metricsEmitter struct {
	metrics *observability.RiskMetrics
	log     *slog.Logger
}

func newMetricsEmitter(log *slog.Logger) *metricsEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &metricsEmitter{metrics: observability.Risk(), log: log}
}

func (m *metricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	switch evt.(type) {
	case events.FlashLoanExecuted:
		m.metrics.ObserveFlashLoan(true)
	case events.RewardsClaimed:
		m.metrics.ObserveRewardClaim()
	}
	m.log.Info("engine event", "type", evt.EventType())
}
