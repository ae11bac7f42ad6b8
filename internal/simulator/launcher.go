package simulator

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/trunkwatch/internal/process"
)

const simShutdownTimeout = 2 * time.Second

// Launcher runs the simulated decoder in-process instead of spawning one.
type Launcher struct {
	Addr    string
	Seed    uint64
	Logger  *slog.Logger
	Traffic *Traffic
}

func (l *Launcher) Describe() string { return "simulated:" + l.Addr }

func (l *Launcher) Launch(_ context.Context, spec process.Spec) (process.Handle, error) {
	tr := l.Traffic
	if tr == nil {
		tr = NewTraffic(l.Seed)
	}
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	srv := NewServer(tr, log.With("decoder", spec.DisplayName()))
	if err := srv.Listen(l.Addr); err != nil {
		return nil, err
	}
	return &Handle{srv: srv, started: time.Now(), done: make(chan struct{})}, nil
}

// Handle is a running simulated decoder. Its PID is the service's own.
type Handle struct {
	srv     *Server
	started time.Time

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	exit process.ExitStatus
}

func (h *Handle) PID() int              { return os.Getpid() }
func (h *Handle) StartedAt() time.Time  { return h.started }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) Server() *Server       { return h.srv }
func (h *Handle) Kill() error           { return h.exitWith(-1, "killed", false) }
func (h *Handle) Crash(code int) error  { return h.exitWith(code, "", false) }

func (h *Handle) Exit() process.ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

// Terminate drains in-flight polls in the background, like a decoder handling SIGTERM.
func (h *Handle) Terminate() error {
	go func() { _ = h.exitWith(-1, "terminated", true) }()
	return nil
}

func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) exitWith(code int, signal string, graceful bool) error {
	var err error
	h.once.Do(func() {
		if graceful {
			ctx, cancel := context.WithTimeout(context.Background(), simShutdownTimeout)
			err = h.srv.Shutdown(ctx)
			cancel()
		} else {
			err = h.srv.Close()
		}
		h.mu.Lock()
		h.exit = process.ExitStatus{Code: code, Signal: signal, At: time.Now()}
		h.mu.Unlock()
		close(h.done)
	})
	return err
}
