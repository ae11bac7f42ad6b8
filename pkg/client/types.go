package client

import "time"

// Status mirrors the daemon's status snapshot. States are reported by name
// ("Running", "Connected", ...).
type Status struct {
	ProcessState        string        `json:"process_state"`
	ConnectionState     string        `json:"connection_state"`
	RestartCount        int           `json:"restart_count"`
	RestartsInWindow    int           `json:"restarts_in_window"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFrame           *Frame        `json:"last_frame,omitempty"`
	FrameAge            time.Duration `json:"frame_age,omitempty"`

	PID           int           `json:"pid,omitempty"`
	Uptime        time.Duration `json:"uptime"`
	NextRestartAt time.Time     `json:"next_restart_at,omitempty"`
	LastExit      *ExitStatus   `json:"last_exit,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Usage         *Usage        `json:"usage,omitempty"`

	Telemetry TelemetryStats `json:"telemetry"`
	Launcher  string         `json:"launcher"`
	TakenAt   time.Time      `json:"taken_at"`
}

// Frame is the most recent decoded view of decoder activity.
type Frame struct {
	System       string    `json:"system"`
	FrequencyMHz float64   `json:"frequency_mhz"`
	Talkgroup    int64     `json:"talkgroup,omitempty"`
	Tag          string    `json:"tag,omitempty"`
	Signal       Signal    `json:"signal"`
	CapturedAt   time.Time `json:"captured_at"`
}

type Signal struct {
	Active       bool    `json:"active"`
	SourceAddr   int64   `json:"source_addr,omitempty"`
	Encrypted    bool    `json:"encrypted,omitempty"`
	NAC          int64   `json:"nac,omitempty"`
	WACN         int64   `json:"wacn,omitempty"`
	SYSID        int64   `json:"sysid,omitempty"`
	SigType      string  `json:"sigtype,omitempty"`
	LastActivity float64 `json:"last_activity_seconds,omitempty"`
}

type ExitStatus struct {
	Code   int       `json:"code"`
	Signal string    `json:"signal,omitempty"`
	Err    string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

type TelemetryStats struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalPolls          uint64    `json:"total_polls"`
	TotalFailures       uint64    `json:"total_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	FailingSince        time.Time `json:"failing_since,omitempty"`
}

// CommandResult is returned by the commands endpoint.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Command string `json:"command"`
	Queued  bool   `json:"queued,omitempty"`
	State   string `json:"state"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
