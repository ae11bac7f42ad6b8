package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/metrics"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/restart"
)

// Liveness reports how long the decoder's data endpoint has been unreachable.
type Liveness interface {
	UnreachableFor(now time.Time) time.Duration
}

// Status is a copy of the supervisor's observable state.
type Status struct {
	State            State               `json:"state"`
	PID              int                 `json:"pid,omitempty"`
	StartedAt        time.Time           `json:"started_at,omitempty"`
	Uptime           time.Duration       `json:"uptime"`
	RestartCount     int                 `json:"restart_count"`
	RestartsInWindow int                 `json:"restarts_in_window"`
	NextRestartAt    time.Time           `json:"next_restart_at,omitempty"`
	LastExit         *process.ExitStatus `json:"last_exit,omitempty"`
	LastError        string              `json:"last_error,omitempty"`
	Epoch            uint64              `json:"epoch"`
}

type exitNotice struct {
	gen  uint64
	exit process.ExitStatus
}

// Supervisor owns the decoder process. All lifecycle work happens on the
// goroutine running Run; Status and Gate only read a lock-protected copy.
//
// State machine:
// Stopped -> Starting -> Running -> Restarting -> Starting -> Running
// Running/Restarting -> Failed (budget exhausted) -> Stopped (reset)
type Supervisor struct {
	cfg      Config
	launcher process.Launcher
	policy   restart.Policy
	log      *slog.Logger
	events   history.Emitter
	liveness Liveness

	mu     sync.RWMutex
	status Status

	// owned by the Run goroutine
	handle  process.Handle
	record  restart.Record
	timer   *time.Timer
	timerC  <-chan time.Time
	gen     uint64
	failErr error
	exitCh  chan exitNotice
	quit    chan struct{}
	running bool
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithHistory exports lifecycle events.
func WithHistory(e history.Emitter) Option { return func(s *Supervisor) { s.events = e } }

// WithLiveness enables the telemetry-based hung decoder check.
func WithLiveness(l Liveness) Option { return func(s *Supervisor) { s.liveness = l } }

func New(cfg Config, launcher process.Launcher, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		policy:   restart.NewPolicy(cfg.Restart),
		log:      slog.Default(),
		exitCh:   make(chan exitNotice, 1),
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "supervisor", "decoder", cfg.Spec.DisplayName())
	return s
}

// Status never blocks on lifecycle operations.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	if st.State == StateRunning && !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt)
	}
	if st.LastExit != nil {
		e := *st.LastExit
		st.LastExit = &e
	}
	return st
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.State
}

// Gate reports whether the decoder is Running and the epoch of the current run.
func (s *Supervisor) Gate() (bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.State == StateRunning, s.status.Epoch
}

// PID of the running decoder, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.PID
}

// Run applies requests in arrival order until ctx is cancelled, a Shutdown
// request arrives or reqs is closed. The decoder is stopped before returning.
func (s *Supervisor) Run(ctx context.Context, reqs <-chan Request) error {
	if s.running {
		return errors.New("supervisor already running")
	}
	s.running = true
	defer close(s.quit)

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, stopping decoder")
			_ = s.stop()
			s.rejectPending(reqs)
			return nil

		case req, ok := <-reqs:
			if !ok {
				_ = s.stop()
				return nil
			}
			err := s.apply(ctx, req.Cmd)
			if req.Reply != nil {
				req.Reply <- err
			}
			if req.Cmd == CmdShutdown {
				s.rejectPending(reqs)
				return nil
			}

		case n := <-s.exitCh:
			if n.gen == s.gen && s.handle != nil {
				s.onExit(ctx, n.exit)
			}

		case <-s.timerC:
			s.timer, s.timerC = nil, nil
			s.onRestartTimer(ctx)

		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// rejectPending answers requests that were queued behind a shutdown.
func (s *Supervisor) rejectPending(reqs <-chan Request) {
	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return
			}
			if req.Reply != nil {
				req.Reply <- ErrShuttingDown
			} else {
				s.log.Warn("command dropped, shutting down", "command", req.Cmd.String())
			}
		default:
			return
		}
	}
}

func (s *Supervisor) apply(ctx context.Context, cmd Command) error {
	s.log.Debug("command", "command", cmd.String(), "state", s.State().String())
	switch cmd {
	case CmdStart:
		return s.start(ctx)
	case CmdStop, CmdShutdown:
		return s.stop()
	case CmdRestart:
		if err := s.stop(); err != nil {
			return err
		}
		return s.start(ctx)
	case CmdReset:
		s.reset()
		return nil
	}
	return ErrUnknownCommand
}

// setState records a transition. attrs are added to the transition log line.
func (s *Supervisor) setState(to State, attrs ...any) {
	s.mu.Lock()
	from := s.status.State
	s.status.State = to
	switch to {
	case StateRunning:
		s.status.Epoch++
	case StateStopped, StateFailed:
		s.status.PID = 0
		s.status.StartedAt = time.Time{}
	}
	if to != StateRestarting {
		s.status.NextRestartAt = time.Time{}
	}
	s.mu.Unlock()

	if from == to {
		return
	}
	metrics.RecordStateTransition(from.String(), to.String())
	s.log.Info("state transition", append([]any{"from", from.String(), "to", to.String()}, attrs...)...)
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	if err == nil {
		s.status.LastError = ""
	} else {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
}

func (s *Supervisor) setLastExit(e process.ExitStatus) {
	s.mu.Lock()
	s.status.LastExit = &e
	s.mu.Unlock()
}

func (s *Supervisor) emit(t history.EventType, exit *process.ExitStatus, delay time.Duration, err error) {
	if s.events == nil {
		return
	}
	st := s.Status()
	rec := history.Record{
		Name:         s.cfg.Spec.DisplayName(),
		PID:          st.PID,
		State:        st.State.String(),
		RestartCount: st.RestartCount,
		DelayMS:      delay.Milliseconds(),
	}
	if exit != nil {
		rec.ExitCode = exit.Code
		rec.Signal = exit.Signal
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.events.Emit(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}
