package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/trunkwatch/internal/logger"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	a := &memSink{}
	b := &memSink{err: errors.New("db down")}
	m := Multi{a, b}

	err := m.Send(context.Background(), Event{Type: EventCrash, Record: Record{Name: "op25", ExitCode: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Len(t, a.snapshot(), 1)
	assert.Len(t, b.snapshot(), 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestDispatcherDeliversInOrderAndDrainsOnClose(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(sink, logger.Discard(), 8)

	d.Emit(Event{Type: EventLaunch, Record: Record{PID: 10}})
	d.Emit(Event{Type: EventCrash, Record: Record{PID: 10, ExitCode: 2}})
	d.Emit(Event{Type: EventRestart, Record: Record{RestartCount: 1, DelayMS: 1000}})
	require.NoError(t, d.Close())

	got := sink.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []EventType{EventLaunch, EventCrash, EventRestart}, []EventType{got[0].Type, got[1].Type, got[2].Type})
	assert.False(t, got[0].OccurredAt.IsZero(), "occurred_at is stamped")
	assert.True(t, sink.closed)

	assert.NotPanics(t, func() { d.Emit(Event{Type: EventStop}) })
	assert.NoError(t, d.Close())
}

func TestDispatcherSinkErrorsDoNotStopDelivery(t *testing.T) {
	sink := &memSink{err: errors.New("boom")}
	d := NewDispatcher(sink, logger.Discard(), 4)
	d.Emit(Event{Type: EventGiveUp})
	d.Emit(Event{Type: EventReset})
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, d.Close())
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() { d.Emit(Event{Type: EventStop}) })
	assert.NoError(t, d.Close())
}

func TestDispatcherEmitRacingClose(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(sink, logger.Discard(), 2)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d.Emit(Event{Type: EventStop, Record: Record{PID: pid}})
			}
		}(i)
	}
	require.NoError(t, d.Close())
	wg.Wait()

	// everything emitted after Close is dropped, nothing is delivered late
	delivered := len(sink.snapshot())
	d.Emit(Event{Type: EventStop})
	assert.Equal(t, delivered, len(sink.snapshot()))
	assert.True(t, sink.closed)
}
