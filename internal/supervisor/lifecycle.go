package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/metrics"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/restart"
)

// start is a no-op while Running. From Restarting it cancels the pending timer
// and launches right away. Failed refuses until reset.
func (s *Supervisor) start(ctx context.Context) error {
	switch s.State() {
	case StateRunning, StateStarting:
		return nil
	case StateFailed:
		if s.failErr != nil {
			return fmt.Errorf("decoder is in Failed state, reset required: %w", s.failErr)
		}
		return errors.New("decoder is in Failed state, reset required")
	case StateRestarting:
		s.cancelTimer()
	}

	if err := s.launch(ctx); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// launch spawns the decoder and waits for the liveness probe. On success the
// state is Running; on error the process is gone and the state is left for the
// caller to decide.
func (s *Supervisor) launch(ctx context.Context) error {
	s.setState(StateStarting)
	began := time.Now()

	h, err := s.launcher.Launch(ctx, s.cfg.Spec)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrProcessLaunch, s.cfg.Spec.CommandLine(), err)
	}
	s.mu.Lock()
	s.status.PID = h.PID()
	s.status.StartedAt = h.StartedAt()
	s.mu.Unlock()

	if err := s.probe(ctx, h, began); err != nil {
		exit, _ := s.terminate(h)
		s.setLastExit(exit)
		s.mu.Lock()
		s.status.PID = 0
		s.status.StartedAt = time.Time{}
		s.mu.Unlock()
		return err
	}

	s.gen++
	s.handle = h
	go s.watch(s.gen, h)

	s.setLastError(nil)
	s.setState(StateRunning, "pid", h.PID(), "startup", time.Since(began).Round(time.Millisecond))
	metrics.IncStart()
	metrics.ObserveStartDuration(time.Since(began).Seconds())
	s.emit(history.EventLaunch, nil, 0, nil)
	return nil
}

// probe waits until the process has survived StartGrace and every configured
// detector reports it alive, bounded by StartupTimeout.
func (s *Supervisor) probe(ctx context.Context, h process.Handle, began time.Time) error {
	deadline := began.Add(s.cfg.StartupTimeout)
	graceUntil := began.Add(s.cfg.StartGrace)
	t := time.NewTicker(probeInterval)
	defer t.Stop()

	var lastDetectorErr error
	for {
		select {
		case <-h.Done():
			return fmt.Errorf("%w: exited during startup (%s)", ErrProcessLaunch, h.Exit())
		default:
		}
		now := time.Now()
		if !now.Before(graceUntil) && h.Alive() {
			ok, err := s.detectorsAlive()
			if ok {
				return nil
			}
			lastDetectorErr = err
		}
		if !now.Before(deadline) {
			if lastDetectorErr != nil {
				return fmt.Errorf("%w: not healthy within %v: %v", ErrProcessLaunch, s.cfg.StartupTimeout, lastDetectorErr)
			}
			return fmt.Errorf("%w: not healthy within %v", ErrProcessLaunch, s.cfg.StartupTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrProcessLaunch, ctx.Err())
		case <-h.Done():
		case <-t.C:
		}
	}
}

func (s *Supervisor) detectorsAlive() (bool, error) {
	for _, d := range s.cfg.Detectors {
		alive, err := d.Alive()
		if err != nil {
			return false, fmt.Errorf("%s: %w", d.Describe(), err)
		}
		if !alive {
			return false, fmt.Errorf("%s: not alive", d.Describe())
		}
	}
	return true, nil
}

func (s *Supervisor) watch(gen uint64, h process.Handle) {
	<-h.Done()
	select {
	case s.exitCh <- exitNotice{gen: gen, exit: h.Exit()}:
	case <-s.quit:
	}
}

// stop is idempotent. Stopped and Failed are left untouched.
func (s *Supervisor) stop() error {
	switch s.State() {
	case StateStopped, StateFailed:
		return nil
	case StateRestarting:
		s.cancelTimer()
		s.setState(StateStopped, "reason", "stop during restart backoff")
		s.emit(history.EventStop, nil, 0, nil)
		return nil
	}

	h := s.handle
	s.handle = nil
	s.gen++ // the exit that follows is expected
	if h == nil {
		s.setState(StateStopped)
		return nil
	}
	exit, forced := s.terminate(h)
	s.setLastExit(exit)
	metrics.IncStop()
	s.emit(history.EventStop, &exit, 0, nil)
	s.setState(StateStopped, "pid", h.PID(), "exit_code", exit.Code, "signal", exit.Signal, "forced", forced)
	return nil
}

// terminate asks the decoder to exit, escalating to a kill after GracefulTimeout.
func (s *Supervisor) terminate(h process.Handle) (process.ExitStatus, bool) {
	select {
	case <-h.Done():
		return h.Exit(), false
	default:
	}
	if err := h.Terminate(); err != nil {
		s.log.Warn("terminate failed", "pid", h.PID(), "error", err)
	}
	grace := time.NewTimer(s.cfg.GracefulTimeout)
	defer grace.Stop()
	select {
	case <-h.Done():
		return h.Exit(), false
	case <-grace.C:
	}

	s.log.Warn("decoder ignored SIGTERM, killing", "pid", h.PID(), "graceful_timeout", s.cfg.GracefulTimeout)
	if err := h.Kill(); err != nil {
		s.log.Error("kill failed", "pid", h.PID(), "error", err)
	}
	reap := time.NewTimer(killWait)
	defer reap.Stop()
	select {
	case <-h.Done():
	case <-reap.C:
		s.log.Error("decoder did not exit after kill", "pid", h.PID())
	}
	return h.Exit(), true
}

func (s *Supervisor) onExit(ctx context.Context, exit process.ExitStatus) {
	pid := s.handle.PID()
	s.handle = nil
	s.setLastExit(exit)
	err := fmt.Errorf("%w: pid %d %s", ErrProcessCrashed, pid, exit)
	s.setLastError(err)
	s.log.Warn("decoder exited unexpectedly", "pid", pid, "exit_code", exit.Code, "signal", exit.Signal)
	metrics.IncCrash("exit")
	s.emit(history.EventCrash, &exit, 0, err)
	s.scheduleRestart(ctx, err)
}

// crashCurrent tears down a decoder judged unhealthy and hands over to the policy.
func (s *Supervisor) crashCurrent(ctx context.Context, cause error, reason string) {
	h := s.handle
	s.handle = nil
	s.gen++
	s.setLastError(cause)
	s.log.Warn("decoder unhealthy", "pid", h.PID(), "reason", reason, "error", cause)
	exit, _ := s.terminate(h)
	s.setLastExit(exit)
	metrics.IncCrash(reason)
	s.emit(history.EventCrash, &exit, 0, cause)
	s.scheduleRestart(ctx, cause)
}

func (s *Supervisor) scheduleRestart(_ context.Context, cause error) {
	now := time.Now()
	window := s.policy.Config().Window
	s.record = s.record.Prune(now, window)
	d := s.policy.ShouldRestart(s.record, now)
	if !d.Allow {
		err := fmt.Errorf("%w: %d restarts within %v, last: %v", ErrRestartBudgetExhausted, s.record.Len(), window, cause)
		s.failErr = err
		s.setLastError(err)
		s.setState(StateFailed, "restarts_in_window", s.record.Len())
		s.log.Error("giving up on decoder", "restarts_in_window", s.record.Len(), "window", window, "error", cause)
		s.emit(history.EventGiveUp, nil, 0, err)
		return
	}

	s.record = s.record.Add(now)
	s.timer = time.NewTimer(d.Delay)
	s.timerC = s.timer.C
	s.mu.Lock()
	s.status.RestartCount++
	s.status.RestartsInWindow = s.record.Len()
	s.status.NextRestartAt = now.Add(d.Delay)
	s.mu.Unlock()
	s.setState(StateRestarting, "delay", d.Delay, "attempt", s.record.Len())
	metrics.IncRestart()
	s.emit(history.EventRestart, nil, d.Delay, cause)
}

func (s *Supervisor) onRestartTimer(ctx context.Context) {
	if s.State() != StateRestarting {
		return
	}
	s.log.Info("relaunching decoder", "attempt", s.record.Len())
	if err := s.launch(ctx); err != nil {
		s.setLastError(err)
		s.log.Warn("relaunch failed", "error", err)
		metrics.IncCrash("launch")
		s.scheduleRestart(ctx, err)
	}
}

func (s *Supervisor) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer, s.timerC = nil, nil
}

// fail moves to Failed after an operator start could not launch the decoder.
func (s *Supervisor) fail(err error) {
	s.failErr = err
	s.setLastError(err)
	s.setState(StateFailed, "error", err)
	s.emit(history.EventGiveUp, nil, 0, err)
}

// reset clears the restart history and leaves Failed.
func (s *Supervisor) reset() {
	s.record = restart.Record{}
	s.failErr = nil
	s.mu.Lock()
	s.status.RestartsInWindow = 0
	s.mu.Unlock()
	if s.State() == StateFailed {
		s.setLastError(nil)
		s.setState(StateStopped, "reason", "reset")
		s.emit(history.EventReset, nil, 0, nil)
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	if s.State() != StateRunning || s.handle == nil {
		return
	}
	now := time.Now()
	if st := s.Status(); !st.StartedAt.IsZero() && s.handle.Alive() {
		if u, err := process.UsageOf(st.PID); err == nil {
			metrics.SetDecoderUsage(u.CPUPercent, u.RSSBytes)
		}
	}
	if !s.handle.Alive() {
		select {
		case <-s.handle.Done():
			return // the exit notice is on its way
		default:
		}
		s.crashCurrent(ctx, fmt.Errorf("%w: pid %d not alive", ErrProcessCrashed, s.handle.PID()), "health")
		return
	}
	if s.liveness == nil || s.cfg.HealthCheckTimeout <= 0 {
		return
	}
	if d := s.liveness.UnreachableFor(now); d >= s.cfg.HealthCheckTimeout {
		s.crashCurrent(ctx, fmt.Errorf("%w: unreachable for %v", ErrHealthCheckTimeout, d.Round(time.Second)), "health_timeout")
	}
}
