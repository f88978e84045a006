package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LeaseGranted("rollover")
		m.LeaseShortage("rollover")
		m.RolloverAttempt("success")
		m.SweepFinished(time.Second, 3)
		m.Notification("telegram", "sent")
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.LeaseGranted("rollover")
	m.LeaseGranted("rollover")
	m.LeaseReleased("rollover")
	m.LeaseShortage("arbitrage")
	m.RolloverSkipped("not_expired")
	m.SweepFinished(2*time.Second, 4)

	body := scrape(t, m)
	assert.Contains(t, body, `keeper_wallet_leases_total{outcome="granted",purpose="rollover"} 2`)
	assert.Contains(t, body, `keeper_wallets_leased{purpose="rollover"} 1`)
	assert.Contains(t, body, `keeper_wallet_leases_total{outcome="shortage",purpose="arbitrage"} 1`)
	assert.Contains(t, body, `keeper_rollover_skips_total{reason="not_expired"} 1`)
	assert.Contains(t, body, "keeper_rollover_tracked_failures 4")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerExposesKeeperMetrics(t *testing.T) {
	m := New()
	m.ArbitrageExecuted("profit_not_met")

	assert.Contains(t, scrape(t, m), `keeper_arbitrage_executions_total{outcome="profit_not_met"} 1`)
}
