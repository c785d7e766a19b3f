package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.SessionRejected()
		m.ClientEvent("typing")
		m.SlowClientClosed()
		m.MessagePosted("text")
		m.VoteApplied()
		m.Relay("call_user", true)
		m.AIReply("sent")
		m.Push("sent")
		m.ObserveHTTP("/health", "GET", "2xx", time.Millisecond)
	})
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Relay("call_user", true)
	m.Relay("call_user", false)
	m.Relay("call_user", false)
	m.MessagePosted("poll")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.wsSessionTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relays.WithLabelValues("call_user", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("poll")))

	n, err := testutil.GatherAndCount(reg, "ys_signaling_relays_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
