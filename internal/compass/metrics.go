package compass

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	discoverRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_discover_requests_total",
			Help: "Total number of discovery requests by outcome",
		},
		[]string{"status"},
	)

	candidatePoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_candidate_pool_size",
			Help:    "Candidates scored per discovery request",
			Buckets: prometheus.LinearBuckets(0, 25, 9),
		},
	)

	matchScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_match_scores",
			Help:    "Distribution of fused match scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	swipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_swipes_total",
			Help: "Total number of swipes by action and result",
		},
		[]string{"action", "result"},
	)

	learningDelta = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_learning_l1_delta",
			Help:    "L1 change of the preference vector per learning step",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	tokenRefillsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_token_refills_total",
			Help: "Total number of profiles refilled by the daily job",
		},
	)

	tokenRefillConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compass_token_refill_conflicts_total",
			Help: "Refill rows whose balance changed between read and write",
		},
	)

	swipeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_swipe_events_total",
			Help: "Swipe trigger events by outcome",
		},
		[]string{"outcome"},
	)

	responseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "compass_response_time_seconds",
			Help: "Response time per operation",
		},
		[]string{"action"},
	)
)

func RecordDiscoverRequest(status string) {
	discoverRequestsTotal.WithLabelValues(status).Inc()
}

func RecordCandidatePool(size int) {
	candidatePoolSize.Observe(float64(size))
}

func RecordMatchScore(score float64) {
	matchScores.Observe(score)
}

func RecordSwipe(action SwipeAction, result string) {
	swipesTotal.WithLabelValues(string(action), result).Inc()
}

func RecordLearningDelta(delta float64) {
	learningDelta.Observe(delta)
}

func RecordTokenRefills(n int) {
	tokenRefillsTotal.Add(float64(n))
}

func RecordRefillConflict() {
	tokenRefillConflicts.Inc()
}

func RecordSwipeEvent(outcome string) {
	swipeEventsTotal.WithLabelValues(outcome).Inc()
}

func RecordResponseTime(action string, duration time.Duration) {
	responseTime.WithLabelValues(action).Observe(duration.Seconds())
}
