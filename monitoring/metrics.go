package monitoring

import (
	"time"

	"event-ticket/internal/status"
	"event-ticket/models"
	"event-ticket/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_issuance_total",
			Help: "Ticket issuance attempts by outcome code",
		},
		[]string{"outcome"},
	)

	redemptionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemption_total",
			Help: "Ticket redemption attempts by outcome code",
		},
		[]string{"outcome"},
	)

	storeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of conditional store operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	scanProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "event_scan_progress",
			Help: "Scanned and total tickets per event as of the last recomputation",
		},
		[]string{"event_id", "kind"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half open, 2 open",
		},
		[]string{"name"},
	)
)

// Monitor records service metrics. A nil *Monitor records nothing.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) TrackIssuance(err error) {
	if m == nil {
		return
	}
	issuanceOutcomes.WithLabelValues(string(status.CodeOf(err))).Inc()
}

func (m *Monitor) TrackRedemption(err error) {
	if m == nil {
		return
	}
	redemptionOutcomes.WithLabelValues(string(status.CodeOf(err))).Inc()
}

// ObserveStore records how long a store operation started at start took.
func (m *Monitor) ObserveStore(operation string, start time.Time) {
	if m == nil {
		return
	}
	storeDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Monitor) TrackScanProgress(stats models.ScanStats) {
	if m == nil {
		return
	}
	scanProgress.WithLabelValues(stats.EventID, "scanned").Set(float64(stats.ScannedCount))
	scanProgress.WithLabelValues(stats.EventID, "total").Set(float64(stats.TotalCount))
}

// TrackBreakerState fits utils.Settings.OnStateChange.
func (m *Monitor) TrackBreakerState(name string, _, to utils.State) {
	if m == nil {
		return
	}
	breakerState.WithLabelValues(name).Set(float64(to))
}
