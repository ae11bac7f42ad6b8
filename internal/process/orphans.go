package process

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Orphan is a decoder process left behind by an earlier run.
type Orphan struct {
	PID     int    `json:"pid"`
	Cmdline string `json:"cmdline"`
}

// FindOrphans lists processes whose command line contains any of the patterns.
// The current process and exclude are skipped.
func FindOrphans(ctx context.Context, patterns []string, exclude ...int) ([]Orphan, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	skip := map[int]bool{os.Getpid(): true}
	for _, pid := range exclude {
		skip[pid] = true
	}
	var out []Orphan
	for _, p := range procs {
		if skip[int(p.Pid)] {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue // exited or not permitted
		}
		if matchesAny(cmdline, patterns) {
			out = append(out, Orphan{PID: int(p.Pid), Cmdline: cmdline})
		}
	}
	return out, nil
}

func matchesAny(cmdline string, patterns []string) bool {
	for _, pat := range patterns {
		if pat != "" && strings.Contains(cmdline, pat) {
			return true
		}
	}
	return false
}

// KillOrphans terminates each orphan, escalating to a kill after grace.
// It returns the PIDs that were confirmed gone.
func KillOrphans(ctx context.Context, orphans []Orphan, grace time.Duration) ([]int, error) {
	var (
		killed []int
		errs   []error
	)
	for _, o := range orphans {
		if err := terminatePID(ctx, o.PID, grace); err != nil {
			errs = append(errs, err)
			continue
		}
		killed = append(killed, o.PID)
	}
	return killed, errors.Join(errs...)
}

// KillStale terminates the process recorded in pidfile when it is still the same
// process, then removes the file. It reports whether a process was killed.
func KillStale(ctx context.Context, pidfile string, grace time.Duration) (bool, error) {
	info, err := ReadPIDFile(pidfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		_ = RemovePIDFile(pidfile) // unreadable; nothing to trust
		return false, nil
	}
	if !info.Matches() {
		return false, RemovePIDFile(pidfile)
	}
	if err := terminatePID(ctx, info.PID, grace); err != nil {
		return false, err
	}
	return true, RemovePIDFile(pidfile)
}

func terminatePID(ctx context.Context, pid int, grace time.Duration) error {
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil // already gone
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
	}
	if waitGone(ctx, p, grace) {
		return nil
	}
	if err := p.KillWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
		return err
	}
	waitGone(ctx, p, time.Second)
	return nil
}

func waitGone(ctx context.Context, p *gopsproc.Process, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return true
		}
		if isZombieLinux(int(p.Pid)) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
