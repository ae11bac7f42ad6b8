package coordinator

import (
	"time"

	"github.com/loykin/trunkwatch/internal/process"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/loykin/trunkwatch/internal/telemetry"
)

// StatusSnapshot combines decoder and telemetry state for consumers that poll
// once per refresh.
type StatusSnapshot struct {
	ProcessState        supervisor.State          `json:"process_state"`
	ConnectionState     telemetry.ConnectionState `json:"connection_state"`
	RestartCount        int                       `json:"restart_count"`
	RestartsInWindow    int                       `json:"restarts_in_window"`
	ConsecutiveFailures int                       `json:"consecutive_failures"`
	LastFrame           *telemetry.Frame          `json:"last_frame,omitempty"`
	FrameAge            time.Duration             `json:"frame_age,omitempty"`

	PID           int                 `json:"pid,omitempty"`
	Uptime        time.Duration       `json:"uptime"`
	NextRestartAt time.Time           `json:"next_restart_at,omitempty"`
	LastExit      *process.ExitStatus `json:"last_exit,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	Usage         *process.Usage      `json:"usage,omitempty"`

	Telemetry telemetry.Stats `json:"telemetry"`
	Launcher  string          `json:"launcher"`
	TakenAt   time.Time       `json:"taken_at"`
}

// Snapshot never blocks on the decoder or the network.
func (c *Coordinator) Snapshot() StatusSnapshot {
	now := time.Now()
	st := c.sup.Status()
	ts := c.tel.Stats()
	snap := StatusSnapshot{
		ProcessState:        st.State,
		ConnectionState:     ts.State,
		RestartCount:        st.RestartCount,
		RestartsInWindow:    st.RestartsInWindow,
		ConsecutiveFailures: ts.ConsecutiveFailures,
		PID:                 st.PID,
		Uptime:              st.Uptime,
		NextRestartAt:       st.NextRestartAt,
		LastExit:            st.LastExit,
		LastError:           st.LastError,
		Telemetry:           ts,
		Launcher:            c.launcher.Describe(),
		TakenAt:             now,
	}
	if f, ok, stored, _ := c.frames.LoadWithMeta(); ok {
		snap.LastFrame = &f
		snap.FrameAge = now.Sub(stored)
	}
	if st.State == supervisor.StateRunning && st.PID > 0 {
		if u, err := process.UsageOf(st.PID); err == nil {
			snap.Usage = &u
		}
	}
	return snap
}
