package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of decoder lifecycle event.
type EventType string

const (
	EventLaunch  EventType = "launch"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
	EventGiveUp  EventType = "give_up"
	EventStop    EventType = "stop"
	EventReset   EventType = "reset"
)

// Record is the decoder state captured with an event.
type Record struct {
	Name         string `json:"name"`
	PID          int    `json:"pid"`
	State        string `json:"state"`
	ExitCode     int    `json:"exit_code"`
	Signal       string `json:"signal,omitempty"`
	Error        string `json:"error,omitempty"`
	RestartCount int    `json:"restart_count"`
	DelayMS      int64  `json:"delay_ms,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(e Event)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that supports it.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
