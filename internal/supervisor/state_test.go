package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{
		"start":            CmdStart,
		" STOP ":           CmdStop,
		"restart":          CmdRestart,
		"shutdown":         CmdShutdown,
		"reset":            CmdReset,
		"reset_failed":     CmdReset,
		"ResetFailedState": CmdReset,
	}
	for in, want := range cases {
		got, err := ParseCommand(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCommand("reboot")
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestStateText(t *testing.T) {
	for s := StateStopped; s <= StateFailed; s++ {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("zombie")))
	assert.Equal(t, "State(9)", State(9).String())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{StartGrace: 20e9}.withDefaults()
	assert.Equal(t, DefaultStartupTimeout, c.StartupTimeout)
	assert.Equal(t, c.StartupTimeout, c.StartGrace)
	assert.Equal(t, DefaultGracefulTimeout, c.GracefulTimeout)
	assert.Equal(t, DefaultHealthCheckInterval, c.HealthCheckInterval)
}
