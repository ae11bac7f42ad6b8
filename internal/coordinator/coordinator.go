package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/latest"
	"github.com/loykin/trunkwatch/internal/metrics"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
)

const (
	DefaultQueueSize       = 16
	DefaultShutdownTimeout = 15 * time.Second
	orphanGrace            = 3 * time.Second
)

var (
	// ErrCommandQueueFull means commands arrive faster than the supervisor can
	// apply them; the queue size is too small for the deployment.
	ErrCommandQueueFull = errors.New("command queue full")
	ErrNotStarted       = errors.New("coordinator not started")
	ErrShutdownTimeout  = errors.New("shutdown timed out waiting for loops")
)

// Config wires the coordinator's collaborators.
type Config struct {
	Supervisor supervisor.Config
	Telemetry  telemetry.Config
	// Launcher defaults to process.ExecLauncher.
	Launcher  process.Launcher
	QueueSize int

	AutoStart          bool
	KillOrphansOnStart bool
	OrphanMatch        []string

	// History, when set, receives lifecycle events through an async dispatcher.
	History history.Sink
	Logger  *slog.Logger
}

// Coordinator owns the command queue into the supervisor and the latest-frame
// cell the telemetry client publishes into.
type Coordinator struct {
	cfg      Config
	log      *slog.Logger
	sup      *supervisor.Supervisor
	tel      *telemetry.Client
	frames   *latest.Cell[telemetry.Frame]
	events   *history.Dispatcher
	launcher process.Launcher

	reqs    chan supervisor.Request
	started atomic.Bool
	// closing is written under gate so no request lands after the final drain
	gate    sync.RWMutex
	closing atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Launcher == nil {
		cfg.Launcher = process.ExecLauncher{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		cfg:      cfg,
		log:      log.With("component", "coordinator"),
		frames:   &latest.Cell[telemetry.Frame]{},
		launcher: cfg.Launcher,
		reqs:     make(chan supervisor.Request, cfg.QueueSize),
		done:     make(chan struct{}),
	}

	tel, err := telemetry.New(cfg.Telemetry,
		telemetry.WithLogger(log),
		telemetry.WithCell(c.frames),
		telemetry.WithGate(func() (bool, uint64) { return c.sup.Gate() }),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	c.tel = tel

	opts := []supervisor.Option{supervisor.WithLogger(log)}
	if cfg.History != nil {
		c.events = history.NewDispatcher(cfg.History, log.With("component", "history"), 0)
		opts = append(opts, supervisor.WithHistory(c.events))
	}
	if cfg.Supervisor.HealthCheckTimeout > 0 {
		opts = append(opts, supervisor.WithLiveness(tel))
	}
	c.sup = supervisor.New(cfg.Supervisor, cfg.Launcher, opts...)
	return c, nil
}

// Start cleans up leftovers of a previous run and launches the supervisor and
// polling loops. With AutoStart the decoder start is queued.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}
	c.sweep(ctx)

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.sup.Run(ctx, c.reqs); err != nil {
			c.log.Error("supervisor loop exited", "error", err)
		}
		// decoder is down; stop polling too
		cancel()
		c.stopAccepting()
		close(c.done)
	}()
	go func() {
		defer c.wg.Done()
		_ = c.tel.Run(ctx)
	}()

	c.log.Info("coordinator started", "launcher", c.launcher.Describe(), "auto_start", c.cfg.AutoStart)
	if c.cfg.AutoStart {
		return c.Submit(supervisor.CmdStart)
	}
	return nil
}

// sweep kills a decoder left behind by a previous instance of this service.
func (c *Coordinator) sweep(ctx context.Context) {
	if pf := c.cfg.Supervisor.Spec.PIDFile; pf != "" {
		killed, err := process.KillStale(ctx, pf, orphanGrace)
		if err != nil {
			c.log.Warn("stale pid file cleanup failed", "pid_file", pf, "error", err)
		} else if killed {
			c.log.Warn("killed decoder left over from a previous run", "pid_file", pf)
		}
	}
	if !c.cfg.KillOrphansOnStart || len(c.cfg.OrphanMatch) == 0 {
		return
	}
	killed, err := c.KillOrphans(ctx)
	if err != nil {
		c.log.Warn("orphan sweep failed", "error", err)
		return
	}
	if len(killed) > 0 {
		c.log.Warn("killed orphaned decoder processes", "pids", killed)
	}
}

// KillOrphans terminates processes whose command line matches OrphanMatch,
// sparing the supervised decoder.
func (c *Coordinator) KillOrphans(ctx context.Context) ([]int, error) {
	if len(c.cfg.OrphanMatch) == 0 {
		return nil, nil
	}
	var exclude []int
	if pid := c.sup.PID(); pid > 0 {
		exclude = append(exclude, pid)
	}
	orphans, err := process.FindOrphans(ctx, c.cfg.OrphanMatch, exclude...)
	if err != nil {
		return nil, err
	}
	return process.KillOrphans(ctx, orphans, orphanGrace)
}

// stopAccepting refuses new requests and answers the ones nobody will apply.
func (c *Coordinator) stopAccepting() {
	c.gate.Lock()
	c.closing.Store(true)
	c.gate.Unlock()
	for {
		select {
		case req := <-c.reqs:
			if req.Reply != nil {
				req.Reply <- supervisor.ErrShuttingDown
			} else {
				c.log.Warn("command dropped, supervisor stopped", "command", req.Cmd.String())
			}
		default:
			return
		}
	}
}

// Done is closed once the supervisor loop has exited, either through a
// shutdown command or Shutdown.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Submit queues cmd without waiting for it to be applied.
func (c *Coordinator) Submit(cmd supervisor.Command) error {
	return c.enqueue(supervisor.Request{Cmd: cmd})
}

// Execute queues cmd and waits until the supervisor applied it.
func (c *Coordinator) Execute(ctx context.Context, cmd supervisor.Command) error {
	reply := make(chan error, 1)
	if err := c.enqueue(supervisor.Request{Cmd: cmd, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.IncCommand(cmd.String(), outcome)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) enqueue(req supervisor.Request) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closing.Load() {
		return supervisor.ErrShuttingDown
	}
	select {
	case c.reqs <- req:
		if req.Reply == nil {
			metrics.IncCommand(req.Cmd.String(), "queued")
		}
		return nil
	default:
		metrics.IncCommand(req.Cmd.String(), "queue_full")
		c.log.Error("command rejected, queue full", "command", req.Cmd.String(), "queue_size", cap(c.reqs))
		return fmt.Errorf("%w: %s (size %d)", ErrCommandQueueFull, req.Cmd, cap(c.reqs))
	}
}

// Shutdown stops the decoder, joins both loops and flushes history. Loops that
// do not finish within timeout are abandoned and ErrShutdownTimeout returned.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.shutdownOnce.Do(func() { c.shutdownErr = c.shutdown(timeout) })
	return c.shutdownErr
}

func (c *Coordinator) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	defer c.closeHistory()
	if !c.started.Load() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	reply := make(chan error, 1)
	select {
	case <-c.done:
		c.log.Debug("supervisor loop already exited")
	default:
		if err := c.enqueue(supervisor.Request{Cmd: supervisor.CmdShutdown, Reply: reply}); err != nil {
			c.log.Warn("shutdown command not queued, cancelling loops", "error", err)
			break
		}
		select {
		case err := <-reply:
			if err != nil {
				c.log.Warn("shutdown stop failed", "error", err)
			}
		case <-c.done:
			// the loop exited on its own; the drain answered the request
		case <-deadline.C:
			c.log.Error("decoder stop exceeded shutdown timeout", "timeout", timeout)
		}
	}
	c.gate.Lock()
	c.closing.Store(true)
	c.gate.Unlock()
	c.cancel()

	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		c.log.Info("coordinator stopped")
		return nil
	case <-deadline.C:
		return ErrShutdownTimeout
	}
}

func (c *Coordinator) closeHistory() {
	if c.events == nil {
		return
	}
	if err := c.events.Close(); err != nil {
		c.log.Warn("history sink close failed", "error", err)
	}
}

// LatestFrame is a non-blocking read of the most recent decoded frame.
func (c *Coordinator) LatestFrame() (telemetry.Frame, bool) { return c.frames.Load() }

func (c *Coordinator) ProcessState() supervisor.State { return c.sup.State() }

func (c *Coordinator) ConnectionState() telemetry.ConnectionState { return c.tel.ConnectionState() }

// Launcher describes how the decoder is run.
func (c *Coordinator) Launcher() string { return c.launcher.Describe() }
