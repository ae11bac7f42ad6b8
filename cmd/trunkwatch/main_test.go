package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sort"
	"strings"
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
	"github.com/loykin/trunkwatch/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	mu    sync.Mutex
	state supervisor.State
	frame *telemetry.Frame
	cmds  []supervisor.Command
}

func (b *backend) Snapshot() coordinator.StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return coordinator.StatusSnapshot{ProcessState: b.state, ConnectionState: telemetry.Connected, RestartCount: 1, LastFrame: b.frame, Launcher: "exec"}
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
	b.cmds = append(b.cmds, cmd)
	return nil
}

func (b *backend) Execute(_ context.Context, cmd supervisor.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, cmd)
	switch cmd {
	case supervisor.CmdStart, supervisor.CmdRestart:
		b.state = supervisor.StateRunning
	case supervisor.CmdStop, supervisor.CmdShutdown:
		b.state = supervisor.StateStopped
	}
	return nil
}

func (b *backend) KillOrphans(context.Context) ([]int, error) { return nil, nil }

func daemon(t *testing.T, b *backend, opts ...server.Option) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts = append([]server.Option{server.WithLogger(logger.Discard())}, opts...)
	ts := httptest.NewServer(server.NewRouter(b, "/api", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/api"
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := buildRoot()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	for _, want := range []string{"frame", "kill-orphans", "mock-decoder", "reset", "restart", "serve", "shutdown", "start", "status", "stop", "token"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("api-url"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestStatusAndFrameCommands(t *testing.T) {
	b := &backend{state: supervisor.StateRunning}
	url := daemon(t, b)

	out, err := run(t, "status", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Running")
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "no frame received yet")

	out, err = run(t, "status", "--api-url", url, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"process_state": "Running"`)

	out, err = run(t, "frame", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "no frame received yet")

	b.mu.Lock()
	b.frame = &telemetry.Frame{System: "County P25", FrequencyMHz: 852.3875, Talkgroup: 2001, Tag: "Fire Dispatch"}
	b.mu.Unlock()
	out, err = run(t, "frame", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "County P25")
	assert.Contains(t, out, "852.3875 MHz")
	assert.Contains(t, out, "2001")
	assert.Contains(t, out, "Fire Dispatch")
}

func TestLifecycleCommands(t *testing.T) {
	b := &backend{state: supervisor.StateStopped}
	url := daemon(t, b)

	out, err := run(t, "start", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "start done")
	assert.Contains(t, out, "Running")

	out, err = run(t, "restart", "--api-url", url, "--no-wait")
	require.NoError(t, err)
	assert.Contains(t, out, "restart queued")

	out, err = run(t, "kill-orphans", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "no orphaned decoder processes")

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []supervisor.Command{supervisor.CmdStart, supervisor.CmdRestart}, b.cmds)
}

func TestTokenCommandAgainstAuthenticatedDaemon(t *testing.T) {
	svc, err := auth.NewService(auth.Config{JWTSecret: "cli-secret"})
	require.NoError(t, err)
	b := &backend{state: supervisor.StateStopped}
	url := daemon(t, b, server.WithAuth(auth.NewMiddleware(svc)))

	_, err = run(t, "stop", "--api-url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	out, err := run(t, "token", "--secret", "cli-secret", "--role", "operator", "--ttl", "1m")
	require.NoError(t, err)
	tok := strings.TrimSpace(out)
	res, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"operator"}, res.Roles)

	t.Setenv(tokenEnv, tok)
	_, err = run(t, "stop", "--api-url", url)
	require.NoError(t, err)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	_, err := run(t, "token")
	require.Error(t, err)
}

func TestRenderStatusDetails(t *testing.T) {
	st := client.Status{
		ProcessState:        "Restarting",
		ConnectionState:     "Degraded",
		RestartCount:        4,
		RestartsInWindow:    2,
		ConsecutiveFailures: 3,
		PID:                 777,
		Uptime:              75 * time.Second,
		NextRestartAt:       time.Now().Add(2 * time.Second),
		LastExit:            &client.ExitStatus{Code: -1, Signal: "killed"},
		LastError:           "decoder crashed",
		Usage:               &client.Usage{CPUPercent: 12.5, RSSBytes: 64 << 20, Threads: 9},
	}
	out := renderStatus(st)
	for _, want := range []string{"Restarting", "Degraded", "777", "1m15s", "4 total, 2 in window", "killed", "decoder crashed", "12.5% cpu", "64.0 MB rss", "next restart"} {
		assert.Contains(t, out, want)
	}
}
