package supervisor

import "errors"

var (
	// ErrProcessLaunch means the decoder could not be spawned or never became healthy.
	ErrProcessLaunch = errors.New("decoder launch failed")
	// ErrProcessCrashed is an unexpected exit while Running.
	ErrProcessCrashed = errors.New("decoder crashed")
	// ErrRestartBudgetExhausted puts the supervisor in Failed until reset.
	ErrRestartBudgetExhausted = errors.New("restart budget exhausted")
	// ErrHealthCheckTimeout is raised when the decoder stays unreachable too long; handled as a crash.
	ErrHealthCheckTimeout = errors.New("decoder health check timed out")
	// ErrUnknownCommand is returned by ParseCommand.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrShuttingDown is returned for commands that arrive after shutdown.
	ErrShuttingDown = errors.New("supervisor shutting down")
)
