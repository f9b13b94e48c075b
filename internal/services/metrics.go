package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// identityOps counts identity operations by name and outcome
	// (ok, invalid, taken, failed, error).
	identityOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_operations_total",
			Help: "Identity operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	indexRebuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_rebuild_duration_seconds",
			Help:    "Duration of full index rebuilds in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		},
	)

	indexEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "index_entries",
			Help: "Entries written by the last full index rebuild.",
		},
		[]string{"field"},
	)

	sessionRotationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "session_rotation_conflicts_total",
			Help: "Token rotations retried because a concurrent rotation won.",
		},
	)
)

func init() {
	prometheus.MustRegister(identityOps, indexRebuildSeconds, indexEntries, sessionRotationConflicts)
}

// opResult maps an operation error to the result label.
func opResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		return "taken"
	case errors.Is(err, ErrLoginFailed), errors.Is(err, ErrNotFound):
		return "failed"
	default:
		return "error"
	}
}
