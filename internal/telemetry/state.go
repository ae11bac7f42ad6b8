package telemetry

import (
	"fmt"
	"strings"
)

// ConnectionState describes how reachable the decoder endpoint currently is.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Degraded:
		return "Degraded"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionState) UnmarshalText(b []byte) error {
	for _, c := range []ConnectionState{Disconnected, Connecting, Connected, Degraded} {
		if strings.EqualFold(string(b), c.String()) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", string(b))
}
