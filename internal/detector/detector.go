package detector

import (
	"fmt"
	"strings"
	"time"
)

// Detector is a strategy that determines if the decoder is running.
// Implementations may check a PID file, a PID number, an HTTP endpoint or a custom script.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Config selects and parameterizes one detector.
type Config struct {
	Type    string        `json:"type" mapstructure:"type"` // http | pidfile | pid | command
	URL     string        `json:"url" mapstructure:"url"`
	Path    string        `json:"path" mapstructure:"path"`
	PID     int           `json:"pid" mapstructure:"pid"`
	Command string        `json:"command" mapstructure:"command"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Build constructs the detector described by cfg.
func Build(cfg Config) (Detector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http detector requires url")
		}
		return HTTPDetector{URL: cfg.URL, Timeout: cfg.Timeout}, nil
	case "pidfile":
		if cfg.Path == "" {
			return nil, fmt.Errorf("pidfile detector requires path")
		}
		return PIDFileDetector{PIDFile: cfg.Path}, nil
	case "pid":
		if cfg.PID <= 0 {
			return nil, fmt.Errorf("pid detector requires a positive pid")
		}
		return PIDDetector{PID: cfg.PID}, nil
	case "command":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("command detector requires command")
		}
		return CommandDetector{Command: cfg.Command, Timeout: cfg.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", cfg.Type)
	}
}

// BuildAll constructs every configured detector, stopping at the first error.
func BuildAll(cfgs []Config) ([]Detector, error) {
	out := make([]Detector, 0, len(cfgs))
	for i, c := range cfgs {
		d, err := Build(c)
		if err != nil {
			return nil, fmt.Errorf("detectors[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}
