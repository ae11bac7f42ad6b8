package process

import (
	"context"
	"fmt"
	"time"
)

// ExitStatus is captured when the decoder terminates.
type ExitStatus struct {
	Code   int       `json:"code"`             // -1 when killed by a signal
	Signal string    `json:"signal,omitempty"` // name of the terminating signal, if any
	Err    string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal: " + e.Signal
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Handle is exclusive ownership of one launched decoder.
type Handle interface {
	PID() int
	StartedAt() time.Time
	// Alive reports whether the process still runs. It never blocks.
	Alive() bool
	// Done is closed once the process has exited and was reaped.
	Done() <-chan struct{}
	// Exit is meaningful after Done is closed.
	Exit() ExitStatus
	// Terminate requests a graceful shutdown.
	Terminate() error
	// Kill forces termination.
	Kill() error
}

// Launcher starts decoders. Implementations are chosen once at startup from config.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
	Describe() string
}
