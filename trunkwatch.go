package trunkwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/trunkwatch/internal/auth"
	"github.com/loykin/trunkwatch/internal/config"
	"github.com/loykin/trunkwatch/internal/coordinator"
	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/history/factory"
	"github.com/loykin/trunkwatch/internal/metrics"
	"github.com/loykin/trunkwatch/internal/schedule"
	"github.com/loykin/trunkwatch/internal/server"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type StatusSnapshot = coordinator.StatusSnapshot

type Frame = telemetry.Frame

type Command = supervisor.Command

type ProcessState = supervisor.State

type ConnectionState = telemetry.ConnectionState

const (
	CmdStart    = supervisor.CmdStart
	CmdStop     = supervisor.CmdStop
	CmdRestart  = supervisor.CmdRestart
	CmdShutdown = supervisor.CmdShutdown
	CmdReset    = supervisor.CmdReset
)

const scheduledRestartJob = "scheduled-restart"

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Service is a fully wired daemon: coordinator, optional restart schedule,
// control API and metrics endpoint.
type Service struct {
	cfg   *Config
	log   *slog.Logger
	coord *coordinator.Coordinator
	sched *schedule.Scheduler
	authn *auth.Middleware

	api        *http.Server
	metricsSrv *http.Server
}

type Option func(*Service)

// WithLogger replaces the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New builds the service without starting anything.
func New(cfg *Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = cfg.LoggerConfig().NewSlogger()
	}

	var sink history.Sink
	if len(cfg.History.Sinks) > 0 {
		m, err := factory.NewMulti(cfg.History.Sinks)
		if err != nil {
			return nil, err
		}
		sink = m
	}

	cc, err := cfg.CoordinatorConfig(s.log, sink)
	if err != nil {
		closeSink(sink)
		return nil, err
	}
	s.coord, err = coordinator.New(cc)
	if err != nil {
		closeSink(sink)
		return nil, err
	}

	if expr := cfg.Supervisor.RestartSchedule; expr != "" {
		s.sched, err = schedule.New(s.coord, cfg.Supervisor.ScheduleTimeZone, s.log)
		if err == nil {
			err = s.sched.Add(scheduledRestartJob, expr, supervisor.CmdRestart)
		}
		if err != nil {
			// not started: only flushes history
			_ = s.coord.Shutdown(0)
			return nil, err
		}
	}

	s.authn = auth.NewMiddleware(nil)
	if ac := cfg.AuthConfig(); ac != nil {
		svc, err := auth.NewService(*ac)
		if err != nil {
			_ = s.coord.Shutdown(0)
			return nil, err
		}
		s.authn = auth.NewMiddleware(svc)
	}
	return s, nil
}

func closeSink(s history.Sink) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// Start brings up metrics, the coordinator, the schedule and the API in that
// order. On error everything already started is shut down again.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv, err := ServeMetrics(s.cfg.Metrics.Listen)
		if err != nil {
			return err
		}
		s.metricsSrv = srv
		s.log.Info("metrics listening", "addr", srv.Addr)
	}

	if err := s.coord.Start(ctx); err != nil {
		_ = s.Shutdown(coordinator.DefaultShutdownTimeout)
		return err
	}
	if s.sched != nil {
		s.sched.Start()
		s.log.Info("scheduled restarts enabled", "schedule", s.cfg.Supervisor.RestartSchedule,
			"next", s.sched.Next(scheduledRestartJob))
	}

	if s.cfg.Server.Listen != "" {
		router := server.NewRouter(s.coord, s.cfg.Server.BasePath, server.WithAuth(s.authn), server.WithLogger(s.log))
		api, err := server.NewServer(s.cfg.Server.Listen, router.Handler())
		if err != nil {
			_ = s.Shutdown(coordinator.DefaultShutdownTimeout)
			return err
		}
		s.api = api
		s.log.Info("api listening", "addr", api.Addr, "base_path", s.cfg.Server.BasePath, "auth", s.authn.Enabled())
	}
	return nil
}

// Shutdown stops accepting API calls and scheduled commands, then stops the
// decoder within timeout.
func (s *Service) Shutdown(timeout time.Duration) error {
	var errs []error
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.api.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		cancel()
	}
	if err := s.coord.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Close()
	}
	return errors.Join(errs...)
}

// APIAddr is the bound control API address, or "" when the API is disabled.
func (s *Service) APIAddr() string {
	if s.api == nil {
		return ""
	}
	return s.api.Addr
}

// Done is closed when the decoder supervisor has stopped for good, including
// after a shutdown command received over the API.
func (s *Service) Done() <-chan struct{} { return s.coord.Done() }

func (s *Service) Snapshot() StatusSnapshot   { return s.coord.Snapshot() }
func (s *Service) LatestFrame() (Frame, bool) { return s.coord.LatestFrame() }
func (s *Service) Submit(cmd Command) error   { return s.coord.Submit(cmd) }
func (s *Service) KillOrphans(ctx context.Context) ([]int, error) {
	return s.coord.KillOrphans(ctx)
}
func (s *Service) Execute(ctx context.Context, cmd Command) error {
	return s.coord.Execute(ctx, cmd)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// ServeMetrics binds addr and serves /metrics from the default registry in
// the background. Listen errors are returned immediately.
func ServeMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, nil
}
