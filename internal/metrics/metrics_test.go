package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherByName(t *testing.T, g prometheus.Gatherer) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second register is a no-op")

	IncStart()
	IncCrash("exit")
	IncRestart()
	IncStop()
	ObserveStartDuration(0.4)
	RecordStateTransition("Stopped", "Starting")
	RecordStateTransition("Starting", "Running")
	SetDecoderUsage(12.5, 64<<20)
	IncPoll("ok")
	IncPoll("network")
	SetConsecutiveFailures(2)
	SetConnectionState("Connecting", "Connected")
	IncCommand("start", "queued")

	byName := gatherByName(t, reg)
	for _, n := range []string{
		"trunkwatch_decoder_starts_total",
		"trunkwatch_decoder_crashes_total",
		"trunkwatch_decoder_restarts_total",
		"trunkwatch_decoder_stops_total",
		"trunkwatch_decoder_start_duration_seconds",
		"trunkwatch_decoder_state_transitions_total",
		"trunkwatch_decoder_current_state",
		"trunkwatch_decoder_cpu_percent",
		"trunkwatch_decoder_rss_bytes",
		"trunkwatch_telemetry_polls_total",
		"trunkwatch_telemetry_consecutive_failures",
		"trunkwatch_telemetry_connection_state",
		"trunkwatch_coordinator_commands_total",
	} {
		mf, ok := byName[n]
		require.True(t, ok, "missing metric %s", n)
		assert.NotEmpty(t, mf.GetMetric(), "metric %s has no samples", n)
	}

	states := map[string]float64{}
	for _, m := range byName["trunkwatch_decoder_current_state"].GetMetric() {
		states[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"Stopped": 0, "Starting": 0, "Running": 1}, states)
	assert.Equal(t, 2.0, byName["trunkwatch_telemetry_consecutive_failures"].GetMetric()[0].GetGauge().GetValue())
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	regOK.Store(false)
	assert.NotPanics(t, func() {
		IncStart()
		RecordStateTransition("Running", "Restarting")
		SetConnectionState("", "Disconnected")
		IncCommand("stop", "rejected")
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "trunkwatch_decoder_starts_total"))
}
