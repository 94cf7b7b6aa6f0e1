// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SnapshotBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_snapshot_builds_total",
			Help: "Total number of membership snapshot builds",
		},
		[]string{"outcome"},
	)

	SnapshotCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_snapshot_cache_total",
			Help: "Snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	SnapshotBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "membership_snapshot_build_duration_seconds",
			Help: "Duration of snapshot builds in seconds",
		},
	)

	SponsorTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sponsor_transactions_total",
			Help: "Sponsored transactions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	SponsorLeaseContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sponsor_lease_contention_total",
			Help: "Sponsored requests rejected because a nonce lease was held",
		},
	)

	SponsorBalanceLow = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sponsor_balance_low_total",
			Help: "Times the sponsor balance was observed below the floor",
		},
	)

	Checkins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_checkins_total",
			Help: "Recorded event check-ins by method",
		},
		[]string{"method"},
	)
)
