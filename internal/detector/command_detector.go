package detector

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 5 * time.Second

// CommandDetector runs a probe such as `pgrep -f multi_rx.py`; exit 0 means
// the decoder is up. A probe that outlives Timeout is killed and reported as
// an error so a wedged script cannot stall startup.
type CommandDetector struct {
	Command string
	Timeout time.Duration
}

// probeCommand execs directly unless the string needs a shell (pipes,
// quotes, globs, expansions).
func probeCommand(ctx context.Context, s string) *exec.Cmd {
	s = strings.TrimSpace(s)
	if s == "" {
		return trueCommand(ctx)
	}
	if strings.ContainsAny(s, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(ctx, s)
	}
	fields := strings.Fields(s)
	// #nosec G204
	return exec.CommandContext(ctx, fields[0], fields[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := probeCommand(ctx, d.Command).Run()
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, fmt.Errorf("probe %q did not finish within %s", d.Command, timeout)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
