package monitoring

import (
	"errors"
	"testing"
	"time"

	"event-ticket/internal/status"
	"event-ticket/models"
	"event-ticket/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMonitor_TrackOutcomes(t *testing.T) {
	m := NewMonitor()

	before := testutil.ToFloat64(issuanceOutcomes.WithLabelValues("EXHAUSTED"))
	m.TrackIssuance(status.ErrExhausted)
	m.TrackIssuance(status.ErrExhausted)
	assert.Equal(t, before+2, testutil.ToFloat64(issuanceOutcomes.WithLabelValues("EXHAUSTED")))

	before = testutil.ToFloat64(redemptionOutcomes.WithLabelValues("OK"))
	m.TrackRedemption(nil)
	assert.Equal(t, before+1, testutil.ToFloat64(redemptionOutcomes.WithLabelValues("OK")))

	before = testutil.ToFloat64(redemptionOutcomes.WithLabelValues("STORE_UNAVAILABLE"))
	m.TrackRedemption(errors.New("dial tcp: refused"))
	assert.Equal(t, before+1, testutil.ToFloat64(redemptionOutcomes.WithLabelValues("STORE_UNAVAILABLE")))
}

func TestMonitor_ScanProgressAndBreaker(t *testing.T) {
	m := NewMonitor()

	m.TrackScanProgress(models.ScanStats{EventID: "e-metrics", ScannedCount: 3, TotalCount: 10})
	assert.Equal(t, 3.0, testutil.ToFloat64(scanProgress.WithLabelValues("e-metrics", "scanned")))
	assert.Equal(t, 10.0, testutil.ToFloat64(scanProgress.WithLabelValues("e-metrics", "total")))

	m.TrackBreakerState("store", utils.StateClosed, utils.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("store")))
}

func TestMonitor_NilIsSafe(t *testing.T) {
	var m *Monitor

	assert.NotPanics(t, func() {
		m.TrackIssuance(nil)
		m.TrackRedemption(nil)
		m.ObserveStore("issue", time.Now())
		m.TrackScanProgress(models.ScanStats{})
		m.TrackBreakerState("store", utils.StateClosed, utils.StateOpen)
	})
}
