package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher delivers events to a sink from its own goroutine so slow
// databases never stall the supervisor. When the queue is full the event is
// dropped and logged.
type Dispatcher struct {
	sink        Sink
	log         *slog.Logger
	sendTimeout time.Duration

	// mu orders Emit's send against Close's close(ch)
	mu       sync.RWMutex
	closed   bool
	ch       chan Event
	wg       sync.WaitGroup
	closeOne sync.Once
}

func NewDispatcher(sink Sink, log *slog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{sink: sink, log: log, sendTimeout: defaultSendTimeout, ch: make(chan Event, queueSize)}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(e Event) {
	if d == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Debug("history dispatcher closed, dropping event", "type", e.Type)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.log.Warn("history queue full, dropping event", "type", e.Type)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.ch {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		if err := d.sink.Send(ctx, e); err != nil {
			d.log.Warn("history sink send failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close drains queued events and closes the sink if it supports it.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	var err error
	d.closeOne.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
		d.wg.Wait()
		if c, ok := d.sink.(interface{ Close() error }); ok {
			err = c.Close()
		}
	})
	return err
}
