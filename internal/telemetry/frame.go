package telemetry

import "time"

// Frame is one decoded view of decoder activity. Frames are values and are
// never mutated after they are published.
type Frame struct {
	System       string    `json:"system"`
	FrequencyMHz float64   `json:"frequency_mhz"`
	Talkgroup    int64     `json:"talkgroup,omitempty"` // 0 when no talkgroup is active
	Tag          string    `json:"tag,omitempty"`
	Signal       Signal    `json:"signal"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Signal carries trunking metadata reported alongside a frame.
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
