package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func waitDone(t *testing.T, h Handle, d time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(d):
		t.Fatalf("process %d did not exit within %v", h.PID(), d)
	}
}

func TestExecLauncherTerminate(t *testing.T) {
	requireUnix(t)
	pidfile := filepath.Join(t.TempDir(), "decoder.pid")
	h, err := ExecLauncher{}.Launch(context.Background(), Spec{Name: "decoder", Executable: "sleep", Args: []string{"30"}, PIDFile: pidfile})
	require.NoError(t, err)
	require.Greater(t, h.PID(), 0)
	assert.False(t, h.StartedAt().IsZero())
	assert.True(t, h.Alive())

	info, err := ReadPIDFile(pidfile)
	require.NoError(t, err)
	assert.Equal(t, h.PID(), info.PID)

	require.NoError(t, h.Terminate())
	waitDone(t, h, 5*time.Second)
	assert.False(t, h.Alive())
	assert.Equal(t, -1, h.Exit().Code)
	assert.NotEmpty(t, h.Exit().Signal)

	_, err = os.Stat(pidfile)
	assert.True(t, os.IsNotExist(err), "pidfile removed after exit")

	// signalling an exited process is a no-op
	assert.NoError(t, h.Kill())
}

func TestExecLauncherCapturesExitCode(t *testing.T) {
	requireUnix(t)
	h, err := ExecLauncher{}.Launch(context.Background(), Spec{Executable: "/bin/sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)
	st := h.Exit()
	assert.Equal(t, 3, st.Code)
	assert.Empty(t, st.Signal)
	assert.Equal(t, "exit status 3", st.String())
}

func TestExecLauncherKillsProcessGroup(t *testing.T) {
	requireUnix(t)
	// the shell forks a child sleep; both must go down with a group kill
	h, err := ExecLauncher{}.Launch(context.Background(), Spec{Executable: "/bin/sh", Args: []string{"-c", "sleep 30 & wait"}})
	require.NoError(t, err)
	require.NoError(t, h.Kill())
	waitDone(t, h, 5*time.Second)
	assert.Equal(t, "killed", h.Exit().Signal)
}

func TestExecLauncherWritesLogs(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	spec := Spec{
		Name:       "op25",
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo tuned; echo oops 1>&2"},
		Log:        logger.FileConfig{Dir: dir},
	}
	h, err := ExecLauncher{}.Launch(context.Background(), spec)
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)

	out, err := os.ReadFile(filepath.Join(dir, "op25.stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "tuned")
	errOut, err := os.ReadFile(filepath.Join(dir, "op25.stderr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errOut), "oops")
}

func TestExecLauncherRejectsInvalidSpec(t *testing.T) {
	_, err := ExecLauncher{}.Launch(context.Background(), Spec{})
	assert.Error(t, err)

	_, err = ExecLauncher{}.Launch(context.Background(), Spec{Executable: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestFindAndKillOrphans(t *testing.T) {
	requireUnix(t)
	marker := fmt.Sprintf("trunkwatch-orphan-%d", time.Now().UnixNano())
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "sleep 30; : "+marker)
	require.NoError(t, cmd.Start())
	waitCh := make(chan struct{})
	go func() { _ = cmd.Wait(); close(waitCh) }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	var found []Orphan
	require.Eventually(t, func() bool {
		var err error
		found, err = FindOrphans(context.Background(), []string{marker})
		return err == nil && len(found) == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, cmd.Process.Pid, found[0].PID)

	killed, err := KillOrphans(context.Background(), found, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{cmd.Process.Pid}, killed)

	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("orphan still running")
	}

	none, err := FindOrphans(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestKillStale(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()

	missing, err := KillStale(context.Background(), filepath.Join(dir, "none.pid"), time.Second)
	require.NoError(t, err)
	assert.False(t, missing)

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	waitCh := make(chan struct{})
	go func() { _ = cmd.Wait(); close(waitCh) }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	pidfile := filepath.Join(dir, "stale.pid")
	require.NoError(t, WritePIDFile(pidfile, cmd.Process.Pid))
	killed, err := KillStale(context.Background(), pidfile, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, killed)
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("stale decoder still running")
	}
	_, err = os.Stat(pidfile)
	assert.True(t, os.IsNotExist(err))
}

func TestUsageOfSelf(t *testing.T) {
	u, err := UsageOf(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, u.RSSBytes, uint64(0))
}
