package supervisor

import (
	"fmt"
	"strings"
)

// State is the decoder process lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateFailed
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Restarting", "Failed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if strings.EqualFold(n, string(b)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", string(b))
}

// Command is an operator request applied by the supervisor loop.
type Command int

const (
	CmdStart Command = iota
	CmdStop
	CmdRestart
	CmdShutdown
	CmdReset
)

var commandNames = [...]string{"start", "stop", "restart", "shutdown", "reset"}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand accepts the lower-case command names; "reset_failed" is an alias of reset.
func ParseCommand(s string) (Command, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "reset_failed" || s == "resetfailedstate" {
		return CmdReset, nil
	}
	for i, n := range commandNames {
		if n == s {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Request carries a command into the loop. Reply, when set, receives exactly one
// result and must have room for it.
type Request struct {
	Cmd   Command
	Reply chan error
}
