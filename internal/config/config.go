package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/loykin/trunkwatch/internal/auth"
	"github.com/loykin/trunkwatch/internal/coordinator"
	"github.com/loykin/trunkwatch/internal/detector"
	"github.com/loykin/trunkwatch/internal/history"
	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/restart"
	"github.com/loykin/trunkwatch/internal/schedule"
	"github.com/loykin/trunkwatch/internal/simulator"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TRUNKWATCH"

	LauncherExec      = "exec"
	LauncherSimulated = "simulated"
)

// Config represents the top-level TOML structure.
type Config struct {
	CommandQueueSize int               `toml:"command_queue_size" mapstructure:"command_queue_size"`
	Decoder          DecoderConfig     `toml:"decoder" mapstructure:"decoder"`
	Supervisor       SupervisorConfig  `toml:"supervisor" mapstructure:"supervisor"`
	Telemetry        TelemetryConfig   `toml:"telemetry" mapstructure:"telemetry"`
	Log              logger.SlogConfig `toml:"log" mapstructure:"log"`
	Server           ServerConfig      `toml:"server" mapstructure:"server"`
	Metrics          MetricsConfig     `toml:"metrics" mapstructure:"metrics"`
	History          HistoryConfig     `toml:"history" mapstructure:"history"`
}

type DecoderConfig struct {
	Name               string            `toml:"name" mapstructure:"name"`
	Launcher           string            `toml:"launcher" mapstructure:"launcher"`
	Executable         string            `toml:"executable" mapstructure:"executable"`
	Args               []string          `toml:"args" mapstructure:"args"`
	WorkDir            string            `toml:"work_dir" mapstructure:"work_dir"`
	Env                []string          `toml:"env" mapstructure:"env"`
	EnvFiles           []string          `toml:"env_files" mapstructure:"env_files"`
	PIDFile            string            `toml:"pid_file" mapstructure:"pid_file"`
	AutoStart          bool              `toml:"auto_start" mapstructure:"auto_start"`
	KillOrphansOnStart bool              `toml:"kill_orphans_on_start" mapstructure:"kill_orphans_on_start"`
	OrphanMatch        []string          `toml:"orphan_match" mapstructure:"orphan_match"`
	SimulatedListen    string            `toml:"simulated_listen" mapstructure:"simulated_listen"`
	Log                logger.FileConfig `toml:"log" mapstructure:"log"`
}

type SupervisorConfig struct {
	StartupTimeoutMS      int               `toml:"startup_timeout_ms" mapstructure:"startup_timeout_ms"`
	StartGraceMS          int               `toml:"start_grace_ms" mapstructure:"start_grace_ms"`
	GracefulTimeoutMS     int               `toml:"graceful_timeout_ms" mapstructure:"graceful_timeout_ms"`
	HealthCheckIntervalMS int               `toml:"health_check_interval_ms" mapstructure:"health_check_interval_ms"`
	HealthCheckTimeoutMS  int               `toml:"health_check_timeout_ms" mapstructure:"health_check_timeout_ms"`
	RestartMaxAttempts    int               `toml:"restart_max_attempts" mapstructure:"restart_max_attempts"`
	RestartWindowSeconds  int               `toml:"restart_window_seconds" mapstructure:"restart_window_seconds"`
	RestartBackoffBaseMS  int               `toml:"restart_backoff_base_ms" mapstructure:"restart_backoff_base_ms"`
	RestartBackoffCapMS   int               `toml:"restart_backoff_cap_ms" mapstructure:"restart_backoff_cap_ms"`
	RestartSchedule       string            `toml:"restart_schedule" mapstructure:"restart_schedule"`
	ScheduleTimeZone      string            `toml:"schedule_time_zone" mapstructure:"schedule_time_zone"`
	Detectors             []detector.Config `toml:"detectors" mapstructure:"detectors"`
}

type TelemetryConfig struct {
	URL                 string `toml:"url" mapstructure:"url"`
	Protocol            string `toml:"protocol" mapstructure:"protocol"`
	PollIntervalMS      int    `toml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ConnectTimeoutMS    int    `toml:"connect_timeout_ms" mapstructure:"connect_timeout_ms"`
	DegradedThreshold   int    `toml:"degraded_threshold" mapstructure:"degraded_threshold"`
	DisconnectThreshold int    `toml:"disconnect_threshold" mapstructure:"disconnect_threshold"`
}

type ServerConfig struct {
	Listen    string        `toml:"listen" mapstructure:"listen"`
	BasePath  string        `toml:"base_path" mapstructure:"base_path"`
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("command_queue_size", coordinator.DefaultQueueSize)

	v.SetDefault("decoder.name", "decoder")
	v.SetDefault("decoder.launcher", LauncherExec)
	v.SetDefault("decoder.executable", "")
	v.SetDefault("decoder.args", []string{})
	v.SetDefault("decoder.work_dir", "")
	v.SetDefault("decoder.env", []string{})
	v.SetDefault("decoder.env_files", []string{})
	v.SetDefault("decoder.pid_file", "")
	v.SetDefault("decoder.auto_start", false)
	v.SetDefault("decoder.kill_orphans_on_start", false)
	v.SetDefault("decoder.orphan_match", []string{})
	v.SetDefault("decoder.simulated_listen", "127.0.0.1:8080")
	v.SetDefault("decoder.log.dir", "")

	v.SetDefault("supervisor.startup_timeout_ms", ms(supervisor.DefaultStartupTimeout))
	v.SetDefault("supervisor.start_grace_ms", ms(supervisor.DefaultStartGrace))
	v.SetDefault("supervisor.graceful_timeout_ms", ms(supervisor.DefaultGracefulTimeout))
	v.SetDefault("supervisor.health_check_interval_ms", ms(supervisor.DefaultHealthCheckInterval))
	v.SetDefault("supervisor.health_check_timeout_ms", ms(supervisor.DefaultHealthCheckTimeout))
	v.SetDefault("supervisor.restart_max_attempts", restart.DefaultMaxAttempts)
	v.SetDefault("supervisor.restart_window_seconds", int(restart.DefaultWindow/time.Second))
	v.SetDefault("supervisor.restart_backoff_base_ms", ms(restart.DefaultBackoffBase))
	v.SetDefault("supervisor.restart_backoff_cap_ms", ms(restart.DefaultBackoffCap))
	v.SetDefault("supervisor.restart_schedule", "")
	v.SetDefault("supervisor.schedule_time_zone", "")

	v.SetDefault("telemetry.url", "http://127.0.0.1:8080/")
	v.SetDefault("telemetry.protocol", "json")
	v.SetDefault("telemetry.poll_interval_ms", ms(telemetry.DefaultPollInterval))
	v.SetDefault("telemetry.connect_timeout_ms", ms(telemetry.DefaultConnectTimeout))
	v.SetDefault("telemetry.degraded_threshold", telemetry.DefaultDegradedThreshold)
	v.SetDefault("telemetry.disconnect_threshold", telemetry.DefaultDisconnectThreshold)

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.path", "")

	v.SetDefault("server.listen", "127.0.0.1:9180")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", auth.DefaultTokenTTL)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9181")

	v.SetDefault("history.sinks", []string{})
}

// Load reads path (TOML) over the defaults. Environment variables prefixed
// TRUNKWATCH_ override file values, with "." in keys replaced by "_"
// (TRUNKWATCH_TELEMETRY_URL). An empty path loads defaults and env only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.CommandQueueSize <= 0 {
		add("command_queue_size must be > 0")
	}

	d := c.Decoder
	switch d.Launcher {
	case LauncherExec:
		if strings.TrimSpace(d.Executable) == "" {
			add("decoder.executable is required for the exec launcher")
		}
	case LauncherSimulated:
		if d.SimulatedListen == "" {
			add("decoder.simulated_listen is required for the simulated launcher")
		}
	default:
		add("decoder.launcher must be %q or %q, got %q", LauncherExec, LauncherSimulated, d.Launcher)
	}
	for _, kv := range d.Env {
		if !strings.Contains(kv, "=") {
			add("decoder.env entry %q must be KEY=VALUE", kv)
		}
	}
	if d.KillOrphansOnStart && len(d.OrphanMatch) == 0 {
		add("decoder.kill_orphans_on_start requires decoder.orphan_match")
	}

	s := c.Supervisor
	positive := map[string]int{
		"supervisor.startup_timeout_ms":       s.StartupTimeoutMS,
		"supervisor.graceful_timeout_ms":      s.GracefulTimeoutMS,
		"supervisor.health_check_interval_ms": s.HealthCheckIntervalMS,
		"supervisor.restart_max_attempts":     s.RestartMaxAttempts,
		"supervisor.restart_window_seconds":   s.RestartWindowSeconds,
		"supervisor.restart_backoff_base_ms":  s.RestartBackoffBaseMS,
		"supervisor.restart_backoff_cap_ms":   s.RestartBackoffCapMS,
		"telemetry.poll_interval_ms":          c.Telemetry.PollIntervalMS,
		"telemetry.connect_timeout_ms":        c.Telemetry.ConnectTimeoutMS,
		"telemetry.degraded_threshold":        c.Telemetry.DegradedThreshold,
	}
	keys := make([]string, 0, len(positive))
	for k := range positive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if positive[k] <= 0 {
			add("%s must be > 0", k)
		}
	}
	if s.StartGraceMS < 0 {
		add("supervisor.start_grace_ms must be >= 0")
	}
	if s.HealthCheckTimeoutMS < 0 {
		add("supervisor.health_check_timeout_ms must be >= 0 (0 disables)")
	}
	if s.RestartBackoffCapMS < s.RestartBackoffBaseMS {
		add("supervisor.restart_backoff_cap_ms (%d) must be >= restart_backoff_base_ms (%d)", s.RestartBackoffCapMS, s.RestartBackoffBaseMS)
	}
	if s.RestartSchedule != "" {
		if err := schedule.Validate(s.RestartSchedule); err != nil {
			errs = append(errs, fmt.Errorf("supervisor.restart_schedule: %w", err))
		}
	}
	if _, err := detector.BuildAll(s.Detectors); err != nil {
		errs = append(errs, fmt.Errorf("supervisor.%w", err))
	}

	t := c.Telemetry
	if t.URL == "" {
		add("telemetry.url is required")
	}
	if _, err := telemetry.ProtocolByName(t.Protocol); err != nil {
		errs = append(errs, fmt.Errorf("telemetry.protocol: %w", err))
	}
	if t.DisconnectThreshold <= t.DegradedThreshold {
		add("telemetry.disconnect_threshold (%d) must be greater than degraded_threshold (%d)", t.DisconnectThreshold, t.DegradedThreshold)
	}

	if _, err := logger.ParseLevel(string(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logger.FormatText && c.Log.Format != logger.FormatJSON {
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		add("metrics.listen is required when metrics are enabled")
	}
	return errors.Join(errs...)
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func msDur(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DecoderEnv merges decoder.env_files (in order) and then decoder.env, which
// wins on duplicate keys.
func (c *Config) DecoderEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.Decoder.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("decoder.env_files: %w", err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Decoder.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}

// Spec is the decoder invocation.
func (c *Config) Spec() (process.Spec, error) {
	env, err := c.DecoderEnv()
	if err != nil {
		return process.Spec{}, err
	}
	return process.Spec{
		Name:       c.Decoder.Name,
		Executable: c.Decoder.Executable,
		Args:       c.Decoder.Args,
		WorkDir:    c.Decoder.WorkDir,
		Env:        env,
		PIDFile:    c.Decoder.PIDFile,
		Log:        c.Decoder.Log,
	}, nil
}

func (c *Config) RestartConfig() restart.Config {
	s := c.Supervisor
	return restart.Config{
		MaxAttempts: s.RestartMaxAttempts,
		Window:      time.Duration(s.RestartWindowSeconds) * time.Second,
		BackoffBase: msDur(s.RestartBackoffBaseMS),
		BackoffCap:  msDur(s.RestartBackoffCapMS),
	}
}

func (c *Config) SupervisorConfig() (supervisor.Config, error) {
	spec, err := c.Spec()
	if err != nil {
		return supervisor.Config{}, err
	}
	dets, err := detector.BuildAll(c.Supervisor.Detectors)
	if err != nil {
		return supervisor.Config{}, err
	}
	s := c.Supervisor
	return supervisor.Config{
		Spec:                spec,
		StartupTimeout:      msDur(s.StartupTimeoutMS),
		StartGrace:          msDur(s.StartGraceMS),
		GracefulTimeout:     msDur(s.GracefulTimeoutMS),
		HealthCheckInterval: msDur(s.HealthCheckIntervalMS),
		HealthCheckTimeout:  msDur(s.HealthCheckTimeoutMS),
		Restart:             c.RestartConfig(),
		Detectors:           dets,
	}, nil
}

func (c *Config) TelemetryConfig() telemetry.Config {
	t := c.Telemetry
	return telemetry.Config{
		URL:                 t.URL,
		Protocol:            t.Protocol,
		PollInterval:        msDur(t.PollIntervalMS),
		ConnectTimeout:      msDur(t.ConnectTimeoutMS),
		DegradedThreshold:   t.DegradedThreshold,
		DisconnectThreshold: t.DisconnectThreshold,
	}
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Slog: c.Log, File: c.Decoder.Log}
}

// Launcher returns the launcher selected by decoder.launcher.
func (c *Config) Launcher(log *slog.Logger) process.Launcher {
	if c.Decoder.Launcher == LauncherSimulated {
		return &simulator.Launcher{Addr: c.Decoder.SimulatedListen, Seed: uint64(time.Now().UnixNano()), Logger: log}
	}
	return process.ExecLauncher{}
}

// CoordinatorConfig assembles the coordinator; sink may be nil.
func (c *Config) CoordinatorConfig(log *slog.Logger, sink history.Sink) (coordinator.Config, error) {
	sup, err := c.SupervisorConfig()
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		Supervisor:         sup,
		Telemetry:          c.TelemetryConfig(),
		Launcher:           c.Launcher(log),
		QueueSize:          c.CommandQueueSize,
		AutoStart:          c.Decoder.AutoStart,
		KillOrphansOnStart: c.Decoder.KillOrphansOnStart,
		OrphanMatch:        c.Decoder.OrphanMatch,
		History:            sink,
		Logger:             log,
	}, nil
}

// AuthConfig is nil when no jwt_secret is configured (API auth disabled).
func (c *Config) AuthConfig() *auth.Config {
	if c.Server.JWTSecret == "" {
		return nil
	}
	return &auth.Config{JWTSecret: c.Server.JWTSecret, TokenTTL: c.Server.TokenTTL}
}
