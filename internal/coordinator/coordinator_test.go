package coordinator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/simulator"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	closed bool
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func simConfig(t *testing.T) Config {
	addr := freeAddr(t)
	return Config{
		Supervisor: supervisor.Config{
			Spec:                process.Spec{Name: "op25"},
			StartupTimeout:      2 * time.Second,
			GracefulTimeout:     time.Second,
			HealthCheckInterval: 50 * time.Millisecond,
		},
		Telemetry: telemetry.Config{
			URL:            "http://" + addr + "/",
			Protocol:       "op25",
			PollInterval:   20 * time.Millisecond,
			ConnectTimeout: 200 * time.Millisecond,
		},
		Launcher: &simulator.Launcher{Addr: addr, Seed: 3, Logger: logger.Discard()},
		Logger:   logger.Discard(),
	}
}

func TestCoordinator_EndToEndWithSimulator(t *testing.T) {
	cfg := simConfig(t)
	cfg.AutoStart = true
	sink := &memSink{}
	cfg.History = sink
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		return c.ProcessState() == supervisor.StateRunning && c.ConnectionState() == telemetry.Connected
	}, 5*time.Second, 10*time.Millisecond)

	frame, ok := c.LatestFrame()
	require.True(t, ok)
	assert.NotEmpty(t, frame.System)

	snap := c.Snapshot()
	assert.Equal(t, supervisor.StateRunning, snap.ProcessState)
	assert.Equal(t, telemetry.Connected, snap.ConnectionState)
	require.NotNil(t, snap.LastFrame)
	assert.GreaterOrEqual(t, snap.FrameAge, time.Duration(0))
	assert.Positive(t, snap.PID)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Contains(t, snap.Launcher, "simulated:")

	require.NoError(t, c.Execute(context.Background(), supervisor.CmdStop))
	assert.Equal(t, supervisor.StateStopped, c.ProcessState())
	require.Eventually(t, func() bool {
		return c.ConnectionState() == telemetry.Disconnected
	}, 2*time.Second, 10*time.Millisecond)
	// the last frame survives the decoder going away
	_, ok = c.LatestFrame()
	assert.True(t, ok)

	require.NoError(t, c.Shutdown(5*time.Second))
	assert.ErrorIs(t, c.Submit(supervisor.CmdStart), supervisor.ErrShuttingDown)
	// a second shutdown returns the first result
	require.NoError(t, c.Shutdown(time.Second))

	sink.mu.Lock()
	closed := sink.closed
	sink.mu.Unlock()
	assert.True(t, closed)
	assert.Equal(t, []history.EventType{history.EventLaunch, history.EventStop}, sink.types())
}

func TestCoordinator_ShutdownStopsRunningDecoder(t *testing.T) {
	c, err := New(simConfig(t))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Execute(context.Background(), supervisor.CmdStart))
	assert.Equal(t, supervisor.StateRunning, c.ProcessState())

	require.NoError(t, c.Shutdown(5*time.Second))
	assert.Equal(t, supervisor.StateStopped, c.ProcessState())
}

func TestCoordinator_ShutdownCommandClosesQueue(t *testing.T) {
	c, err := New(simConfig(t))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Execute(context.Background(), supervisor.CmdStart))

	require.NoError(t, c.Execute(context.Background(), supervisor.CmdShutdown))
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("coordinator not done after shutdown command")
	}
	assert.Equal(t, supervisor.StateStopped, c.ProcessState())

	assert.ErrorIs(t, c.Submit(supervisor.CmdStart), supervisor.ErrShuttingDown)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, c.Execute(ctx, supervisor.CmdStart), supervisor.ErrShuttingDown)

	began := time.Now()
	require.NoError(t, c.Shutdown(2*time.Second))
	assert.Less(t, time.Since(began), time.Second)
	assert.Equal(t, supervisor.StateStopped, c.ProcessState())
}

func TestCoordinator_CommandsBeforeStart(t *testing.T) {
	c, err := New(simConfig(t))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Submit(supervisor.CmdStart), ErrNotStarted)
	assert.ErrorIs(t, c.Execute(context.Background(), supervisor.CmdStart), ErrNotStarted)
	require.NoError(t, c.Shutdown(time.Second))
}

func TestCoordinator_QueueFullIsReported(t *testing.T) {
	cfg := simConfig(t)
	cfg.QueueSize = 2
	c, err := New(cfg)
	require.NoError(t, err)
	// no consumer: the queue only fills
	c.started.Store(true)

	require.NoError(t, c.Submit(supervisor.CmdStart))
	require.NoError(t, c.Submit(supervisor.CmdStop))
	err = c.Submit(supervisor.CmdRestart)
	require.ErrorIs(t, err, ErrCommandQueueFull)
	assert.Contains(t, err.Error(), "restart")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Execute(ctx, supervisor.CmdStop), ErrCommandQueueFull)
}

func TestCoordinator_ExecuteHonoursContext(t *testing.T) {
	c, err := New(simConfig(t))
	require.NoError(t, err)
	c.started.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Execute(ctx, supervisor.CmdStart), context.DeadlineExceeded)
}

func TestCoordinator_InvalidTelemetryConfig(t *testing.T) {
	cfg := simConfig(t)
	cfg.Telemetry.DegradedThreshold = 5
	cfg.Telemetry.DisconnectThreshold = 5
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry")
}

func TestCoordinator_StartTwice(t *testing.T) {
	c, err := New(simConfig(t))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(5 * time.Second) })
	assert.Error(t, c.Start(context.Background()))
}
