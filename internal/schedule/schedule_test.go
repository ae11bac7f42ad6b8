package schedule

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/trunkwatch/internal/logger"
	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	cmds []supervisor.Command
	err  error
}

func (r *recorder) Submit(cmd supervisor.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 4 * * *", "*/30 * * * * *", "@daily", "@every 6h"} {
		assert.NoError(t, Validate(ok), ok)
	}
	for _, bad := range []string{"", "every day", "61 * * * *", "@every nope"} {
		assert.Error(t, Validate(bad), bad)
	}
}

func TestScheduler_SubmitsOnSchedule(t *testing.T) {
	rec := &recorder{}
	s, err := New(rec, "", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Add("nightly", "@every 1s", supervisor.CmdRestart))

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return !s.Next("nightly").IsZero() }, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, supervisor.CmdRestart, rec.cmds[0])
	rec.mu.Unlock()
}

func TestScheduler_SubmitErrorIsNotFatal(t *testing.T) {
	rec := &recorder{err: errors.New("queue full")}
	s, err := New(rec, "UTC", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Add("r", "@every 1s", supervisor.CmdRestart))
	s.Start()
	require.Eventually(t, func() bool { return rec.count() >= 2 }, 4*time.Second, 20*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestScheduler_AddRemove(t *testing.T) {
	s, err := New(&recorder{}, "", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Add("a", "0 4 * * *", supervisor.CmdRestart))
	assert.Error(t, s.Add("a", "0 5 * * *", supervisor.CmdRestart))
	assert.Error(t, s.Add("b", "bogus", supervisor.CmdRestart))
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Zero(t, s.Len())
	assert.True(t, s.Next("a").IsZero())
}

func TestNew_BadTimeZone(t *testing.T) {
	_, err := New(&recorder{}, "Mars/Olympus", logger.Discard())
	require.Error(t, err)
}
