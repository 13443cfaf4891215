package firebasil

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.sessionOpened()
	m.sessionOpened()
	m.sessionClosed()
	m.reconnect()
	m.frame("put")
	m.frame("put")
	m.frame("patch")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m))

	expected := `
# HELP rtdb_frames_received_total Total number of stream frames received, by event type
# TYPE rtdb_frames_received_total counter
rtdb_frames_received_total{event="patch"} 1
rtdb_frames_received_total{event="put"} 2
# HELP rtdb_session_reconnects_total Total number of stream reopens after a lost connection
# TYPE rtdb_session_reconnects_total counter
rtdb_session_reconnects_total 1
# HELP rtdb_sessions_active Number of replica sessions currently running
# TYPE rtdb_sessions_active gauge
rtdb_sessions_active 1
# HELP rtdb_sessions_opened_total Total number of replica sessions opened
# TYPE rtdb_sessions_opened_total counter
rtdb_sessions_opened_total 2
`
	require.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected)))
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.sessionOpened()
	m.sessionClosed()
	m.reconnect()
	m.frame("put")
}
