// services/anti-cheat/internal/service/metrics.go
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_gateway_decisions_total",
		Help: "Gateway decisions by action and outcome.",
	}, []string{"action", "outcome"})

	failOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_fail_open_total",
		Help: "Gateway stages that errored and let the action through.",
	}, []string{"stage"})

	detectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_detections_total",
		Help: "Fraud detections recorded, deduplicated by evidence.",
	}, []string{"type", "severity"})

	moderationViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_moderation_violations_total",
		Help: "Moderation violations by content type and category.",
	}, []string{"content_type", "category"})

	trustAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_trust_adjustments_total",
		Help: "Trust score mutations by action.",
	}, []string{"action"})

	casRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_cas_retries_total",
		Help: "Optimistic concurrency retries by entity.",
	}, []string{"entity"})

	bansLifted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anticheat_temporary_bans_lifted_total",
		Help: "Temporary bans lifted after expiry.",
	})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anticheat_audit_write_failures_total",
		Help: "Admin audit entries that could not be written.",
	})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anticheat_gateway_check_seconds",
		Help:    "Gateway check latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)
