//go:build !windows

package detector

import (
	"context"
	"os/exec"
)

func trueCommand(ctx context.Context) *exec.Cmd { return exec.CommandContext(ctx, "/bin/true") }

// #nosec G204
func shellCommand(ctx context.Context, s string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", s)
}
