package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_outcomes_total",
			Help: "Scan decisions by outcome and capture method",
		},
		[]string{"event_id", "outcome", "method"},
	)

	verificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_verification_failures_total",
			Help: "Locally rejected credentials by reason",
		},
		[]string{"reason"},
	)

	claimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claim_duration_seconds",
			Help:    "Duration of claim submissions against the central store",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"outcome"},
	)

	offlineQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Pending queued scans per device",
		},
		[]string{"device_id"},
	)

	syncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Reconciler replay results",
		},
		[]string{"device_id", "result"},
	)

	admissionTally = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_tally",
			Help: "Admitted/rejected tallies per event",
		},
		[]string{"event_id", "kind"},
	)
)

// TrackScanOutcome records one admission decision.
func TrackScanOutcome(eventID, outcome, method string) {
	scanOutcomes.WithLabelValues(eventID, outcome, method).Inc()
}

// TrackVerificationFailure records a locally rejected credential.
func TrackVerificationFailure(reason string) {
	verificationFailures.WithLabelValues(reason).Inc()
}

// TrackClaimDuration records how long a claim submission took.
func TrackClaimDuration(outcome string, d time.Duration) {
	claimDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// TrackQueueDepth reports the device's pending queue size.
func TrackQueueDepth(deviceID string, depth int64) {
	offlineQueueDepth.WithLabelValues(deviceID).Set(float64(depth))
}

// TrackSyncOperation records one reconciler replay result.
func TrackSyncOperation(deviceID, result string) {
	syncOperations.WithLabelValues(deviceID, result).Inc()
}

// Monitor periodically mirrors the per-event Redis tallies into gauges.
type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectTallies(ctx)
	}
}

func (m *Monitor) collectTallies(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "gate:tally:*").Result()
	if err != nil {
		return
	}

	for _, key := range keys {
		eventID := key[len("gate:tally:"):]

		tally, err := m.redis.HGetAll(ctx, key).Result()
		if err != nil {
			continue
		}

		for kind, raw := range tally {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				admissionTally.WithLabelValues(eventID, kind).Set(v)
			}
		}
	}
}
