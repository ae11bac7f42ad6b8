package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ExecLauncher runs the decoder as a child OS process in its own process group.
type ExecLauncher struct{}

func (ExecLauncher) Describe() string { return "exec" }

// Launch starts the process and returns once it was spawned; it does not wait for
// the decoder to become healthy.
func (ExecLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	configureSysProcAttr(cmd)

	p := &Process{spec: spec, done: make(chan struct{})}
	if err := p.attachOutput(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, err
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	if spec.PIDFile != "" {
		// a missing pidfile only weakens orphan recovery; the decoder is already running
		p.pidFileErr = WritePIDFile(spec.PIDFile, p.pid)
	}
	go p.wait()
	return p, nil
}

// Process is the Handle for an exec-launched decoder.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu        sync.Mutex
	exit      ExitStatus
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	done      chan struct{} // closed when cmd.Wait returns

	pidFileErr error
}

// PIDFileError reports a failure to write the pidfile at launch, if any.
func (p *Process) PIDFileError() error { return p.pidFileErr }

func (p *Process) PID() int              { return p.pid }
func (p *Process) StartedAt() time.Time  { return p.startedAt }
func (p *Process) Done() <-chan struct{} { return p.done }
func (p *Process) Spec() Spec            { return p.spec }
func (p *Process) Terminate() error      { return p.signal(syscall.SIGTERM) }
func (p *Process) Kill() error           { return p.signal(syscall.SIGKILL) }
func (p *Process) Usage() (Usage, error) { return UsageOf(p.pid) }

func (p *Process) Exit() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Alive probes liveness without racing cmd.Wait.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	// On Linux, a quickly-exiting child can be a zombie until reaped; treat that as not alive.
	if runtime.GOOS == "linux" && isZombieLinux(p.pid) {
		return false
	}
	return processExists(p.pid)
}

func (p *Process) signal(sig syscall.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := signalGroup(p.pid, sig); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal %v to pid %d: %w", sig, p.pid, err)
	}
	return nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	st := exitStatusFrom(err)
	p.mu.Lock()
	p.exit = st
	p.mu.Unlock()
	p.closeWriters()
	if p.spec.PIDFile != "" {
		_ = RemovePIDFile(p.spec.PIDFile)
	}
	close(p.done)
}

func (p *Process) attachOutput(cmd *exec.Cmd) error {
	if !p.spec.Log.Enabled() {
		return nil // exec wires nil stdout/stderr to the null device
	}
	outW, errW, err := p.spec.Log.Writers(p.spec.DisplayName())
	if err != nil {
		return err
	}
	p.outCloser, p.errCloser = outW, errW
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}
	return nil
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}

func exitStatusFrom(err error) ExitStatus {
	st := ExitStatus{At: time.Now()}
	if err == nil {
		return st
	}
	st.Err = err.Error()
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		st.Code = -1
		return st
	}
	st.Code = ee.ExitCode()
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = ws.Signal().String()
	}
	return st
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
