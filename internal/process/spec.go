package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/trunkwatch/internal/logger"
)

// Spec describes how to invoke the decoder process.
type Spec struct {
	Name       string            `json:"name"`
	Executable string            `json:"executable"`
	Args       []string          `json:"args"`
	WorkDir    string            `json:"work_dir"` // optional working dir
	Env        []string          `json:"env"`      // extra KEY=VALUE entries appended to the inherited environment
	PIDFile    string            `json:"pid_file"` // optional; written on launch and removed on exit
	Log        logger.FileConfig `json:"log"`      // stdout/stderr capture; discarded when empty
}

// Validate checks the fields required to launch an OS process.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Executable) == "" {
		return errors.New("executable is required")
	}
	for i, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
	}
	return nil
}

// DisplayName is Name, or the executable when Name is empty.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Executable
}

// CommandLine renders the invocation for logs.
func (s Spec) CommandLine() string {
	return strings.TrimSpace(s.Executable + " " + strings.Join(s.Args, " "))
}

// BuildCommand constructs the *exec.Cmd. The executable is never wrapped in a shell.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- executable and args come from the operator's config file
	cmd := exec.Command(s.Executable, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}
