package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/trunkwatch/internal/auth"
	"github.com/loykin/trunkwatch/internal/coordinator"
	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/loykin/trunkwatch/internal/server"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	mu     sync.Mutex
	state  supervisor.State
	frame  *telemetry.Frame
	queued []supervisor.Command
	err    error
}

func (b *backend) Snapshot() coordinator.StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return coordinator.StatusSnapshot{
		ProcessState:    b.state,
		ConnectionState: telemetry.Degraded,
		RestartCount:    3,
		PID:             4321,
		Uptime:          90 * time.Second,
		LastFrame:       b.frame,
		Telemetry:       telemetry.Stats{State: telemetry.Degraded, ConsecutiveFailures: 3, TotalPolls: 10},
		Launcher:        "exec",
	}
}

func (b *backend) LatestFrame() (telemetry.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return telemetry.Frame{}, false
	}
	return *b.frame, true
}

func (b *backend) Submit(cmd supervisor.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = append(b.queued, cmd)
	return nil
}

func (b *backend) Execute(_ context.Context, cmd supervisor.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if cmd == supervisor.CmdStart {
		b.state = supervisor.StateRunning
	}
	return nil
}

func (b *backend) KillOrphans(context.Context) ([]int, error) { return []int{101, 102}, nil }

func newTestServer(t *testing.T, b *backend, opts ...server.Option) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts = append([]server.Option{server.WithLogger(logger.Discard())}, opts...)
	ts := httptest.NewServer(server.NewRouter(b, "/api", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestStatusAndFrame(t *testing.T) {
	b := &backend{state: supervisor.StateRunning}
	ts := newTestServer(t, b)
	c := New(Config{BaseURL: ts.URL + "/api", Logger: logger.Discard()})
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Running", st.ProcessState)
	assert.Equal(t, "Degraded", st.ConnectionState)
	assert.Equal(t, 3, st.RestartCount)
	assert.Equal(t, 4321, st.PID)
	assert.Equal(t, 90*time.Second, st.Uptime)
	assert.Equal(t, uint64(10), st.Telemetry.TotalPolls)
	assert.Nil(t, st.LastFrame)

	_, err = c.Frame(ctx)
	require.ErrorIs(t, err, ErrNoFrame)

	b.mu.Lock()
	b.frame = &telemetry.Frame{System: "Metro", FrequencyMHz: 851.0125, Talkgroup: 1201, Tag: "Dispatch"}
	b.mu.Unlock()
	f, err := c.Frame(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Metro", f.System)
	assert.InDelta(t, 851.0125, f.FrequencyMHz, 1e-9)
	assert.Equal(t, int64(1201), f.Talkgroup)
}

func TestCommands(t *testing.T) {
	b := &backend{state: supervisor.StateStopped}
	ts := newTestServer(t, b)
	c := New(Config{BaseURL: ts.URL + "/api", Logger: logger.Discard()})
	ctx := context.Background()

	res, err := c.Command(ctx, "start", true, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "Running", res.State)

	res, err = c.Command(ctx, "restart", false, 0)
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, []supervisor.Command{supervisor.CmdRestart}, b.queued)

	_, err = c.Command(ctx, "explode", true, 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	b.err = supervisor.ErrRestartBudgetExhausted
	_, err = c.Command(ctx, "start", true, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Message, "budget")

	killed, err := c.KillOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102}, killed)
}

func TestBearerToken(t *testing.T) {
	svc, err := auth.NewService(auth.Config{JWTSecret: "test-secret"})
	require.NoError(t, err)
	b := &backend{state: supervisor.StateStopped}
	ts := newTestServer(t, b, server.WithAuth(auth.NewMiddleware(svc)))
	ctx := context.Background()

	anon := New(Config{BaseURL: ts.URL + "/api", Logger: logger.Discard()})
	_, err = anon.Status(ctx)
	require.NoError(t, err)
	_, err = anon.Command(ctx, "start", true, 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	tok, err := svc.Issue("ops", []string{"operator"})
	require.NoError(t, err)
	op := New(Config{BaseURL: ts.URL + "/api", Token: tok.Value, Logger: logger.Discard()})
	_, err = op.Command(ctx, "start", true, 0)
	require.NoError(t, err)
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second, Logger: logger.Discard()})
	assert.False(t, c.IsReachable(context.Background()))
}
