package restart

import (
	"time"
)

// Default policy values, used when a Config field is left at zero.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 60 * time.Second
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 5 * time.Minute
)

// Config bounds automatic restarts: at most MaxAttempts restarts inside Window,
// spaced by an exponential backoff starting at BackoffBase and capped at BackoffCap.
type Config struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	Window      time.Duration `json:"window" mapstructure:"window"`
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap" mapstructure:"backoff_cap"`
}

// Decision is the answer of a Policy for one crash.
type Decision struct {
	Allow bool
	Delay time.Duration
}

// Policy decides whether a crashed decoder may be restarted. It holds no state;
// the restart history is owned by the caller.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	return Policy{cfg: cfg}
}

// Config returns the effective configuration after defaults.
func (p Policy) Config() Config { return p.cfg }

// ShouldRestart prunes history to the window ending at now and denies the restart
// when the remaining count already reached MaxAttempts. Otherwise the delay is
// BackoffBase * 2^count, capped at BackoffCap.
func (p Policy) ShouldRestart(history Record, now time.Time) Decision {
	count := history.Prune(now, p.cfg.Window).Len()
	if count >= p.cfg.MaxAttempts {
		return Decision{Allow: false}
	}
	return Decision{Allow: true, Delay: p.Backoff(count)}
}

// Backoff returns min(BackoffBase * 2^count, BackoffCap).
func (p Policy) Backoff(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	d := p.cfg.BackoffBase
	for i := 0; i < count; i++ {
		// doubling past the cap can overflow; stop early
		if d >= p.cfg.BackoffCap || d > p.cfg.BackoffCap/2 {
			return p.cfg.BackoffCap
		}
		d *= 2
	}
	if d > p.cfg.BackoffCap {
		return p.cfg.BackoffCap
	}
	return d
}
