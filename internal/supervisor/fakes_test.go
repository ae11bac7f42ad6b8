package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/process"
)

type fakeHandle struct {
	pid        int
	started    time.Time
	ignoreTerm bool

	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	exit  process.ExitStatus
	terms atomic.Int32
	kills atomic.Int32
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, started: time.Now(), done: make(chan struct{})}
}

func (h *fakeHandle) finish(e process.ExitStatus) {
	h.once.Do(func() {
		e.At = time.Now()
		h.mu.Lock()
		h.exit = e
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *fakeHandle) crash(code int) { h.finish(process.ExitStatus{Code: code}) }

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) StartedAt() time.Time  { return h.started }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *fakeHandle) Exit() process.ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exit
}

func (h *fakeHandle) Terminate() error {
	h.terms.Add(1)
	if !h.ignoreTerm {
		h.finish(process.ExitStatus{Code: -1, Signal: "terminated"})
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.kills.Add(1)
	h.finish(process.ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

type fakeLauncher struct {
	mu          sync.Mutex
	handles     []*fakeHandle
	err         error
	exitOnStart bool
	ignoreTerm  bool
}

func (l *fakeLauncher) Describe() string { return "fake" }

func (l *fakeLauncher) Launch(_ context.Context, _ process.Spec) (process.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	h := newFakeHandle(40000 + len(l.handles))
	h.ignoreTerm = l.ignoreTerm
	if l.exitOnStart {
		h.crash(1)
	}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

func (l *fakeLauncher) last() *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handles) == 0 {
		return nil
	}
	return l.handles[len(l.handles)-1]
}

func (l *fakeLauncher) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

type eventRecorder struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *eventRecorder) Emit(e history.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t history.EventType) []history.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []history.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeLiveness struct{ down atomic.Int64 }

func (f *fakeLiveness) UnreachableFor(time.Time) time.Duration {
	return time.Duration(f.down.Load())
}

type fakeDetector struct{ alive atomic.Bool }

func (d *fakeDetector) Alive() (bool, error) {
	if d.alive.Load() {
		return true, nil
	}
	return false, errors.New("port closed")
}

func (d *fakeDetector) Describe() string { return "fake" }
