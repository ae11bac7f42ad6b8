package supervisor

import (
	"time"

	"github.com/loykin/trunkwatch/internal/detector"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/restart"
)

const (
	DefaultStartupTimeout      = 10 * time.Second
	DefaultStartGrace          = 2 * time.Second
	DefaultGracefulTimeout     = 10 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 30 * time.Second

	// bound on waiting for the kernel to reap after SIGKILL
	killWait      = 5 * time.Second
	probeInterval = 50 * time.Millisecond
)

// Config describes the supervised decoder and lifecycle timings.
type Config struct {
	Spec process.Spec

	// StartupTimeout bounds the time from launch until the liveness probe passes.
	StartupTimeout time.Duration
	// StartGrace is how long the process must stay up before it counts as started.
	StartGrace          time.Duration
	GracefulTimeout     time.Duration
	HealthCheckInterval time.Duration
	// HealthCheckTimeout is how long telemetry may stay unreachable before the
	// decoder is considered hung. Zero disables the check.
	HealthCheckTimeout time.Duration

	Restart   restart.Config
	Detectors []detector.Detector
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.StartGrace < 0 {
		c.StartGrace = 0
	}
	if c.StartGrace > c.StartupTimeout {
		c.StartGrace = c.StartupTimeout
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HealthCheckTimeout < 0 {
		c.HealthCheckTimeout = 0
	}
	return c
}
