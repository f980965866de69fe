/**
 * @description
 * Prometheus collectors for the token-service, served on /metrics.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Metrics registry and promauto helpers.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RewardsProcessed counts terminal processor outcomes per event source.
	RewardsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven",
		Subsystem: "rewards",
		Name:      "processed_total",
		Help:      "Reward events processed, by source, operation kind and outcome status.",
	}, []string{"source", "kind", "status"})

	// SubmissionAttempts counts individual broadcast attempts by outcome.
	SubmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven",
		Subsystem: "chain",
		Name:      "submission_attempts_total",
		Help:      "Blockchain submission attempts, by attempt outcome.",
	}, []string{"outcome"})

	// IdempotencyDecisions counts guard acquisitions by decision.
	IdempotencyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven",
		Subsystem: "idempotency",
		Name:      "decisions_total",
		Help:      "Idempotency guard decisions (proceed, duplicate, conflict, retry_later).",
	}, []string{"decision"})

	// IdempotencyFallbacks counts acquisitions served by the durable store
	// because the fast-path cache was unreachable.
	IdempotencyFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haven",
		Subsystem: "idempotency",
		Name:      "fallback_total",
		Help:      "Guard acquisitions that fell back to the durable store.",
	})

	// NonceResyncs counts resynchronizations against the node's pending nonce.
	NonceResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haven",
		Subsystem: "chain",
		Name:      "nonce_resyncs_total",
		Help:      "Nonce allocator resynchronizations against the node.",
	})

	// ConfirmationSeconds observes broadcast-to-receipt latency.
	ConfirmationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "haven",
		Subsystem: "chain",
		Name:      "confirmation_seconds",
		Help:      "Latency from broadcast to confirmed receipt.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
