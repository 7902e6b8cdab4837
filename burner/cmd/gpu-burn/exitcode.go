package main

import (
	"context"
	"errors"
	"strconv"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/burner/internal/supervisor"
	"github.com/obsidianstack/gpuburn/burner/internal/worker"
)

// Process exit codes. They are part of the command's contract with health
// check scripts and must not change.
const (
	ExitOK            = 0   // every device OK or WARNING
	ExitFaulty        = 1   // at least one device FAULTY
	ExitNoDevices     = 19  // ENODEV: nothing to burn
	ExitUsage         = 22  // EINVAL: bad flags or configuration
	ExitWorkerRuntime = 111 // worker: failure during compute
	ExitAllDead       = 123 // no worker stayed alive
	ExitWorkerInit    = 124 // worker init, launch or handshake failure
	ExitInterrupted   = 130 // SIGINT/SIGTERM
)

// exitError carries the process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// runExitCode maps the outcome of a supervised run to the exit code.
func runExitCode(err error, out diagnosis.Outcome) int {
	switch {
	case err == nil:
		if out.Failed {
			return ExitFaulty
		}
		return ExitOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	case errors.Is(err, supervisor.ErrNoDevices):
		return ExitNoDevices
	case errors.Is(err, supervisor.ErrAllWorkersDead):
		return ExitAllDead
	case errors.Is(err, supervisor.ErrHandshake), errors.Is(err, supervisor.ErrLaunch):
		return ExitWorkerInit
	case errors.Is(err, config.ErrInvalid):
		return ExitUsage
	default:
		return ExitFaulty
	}
}

// workerExitCode maps the result of the built-in worker to its exit code.
func workerExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, worker.ErrInit):
		return ExitWorkerInit
	case errors.Is(err, worker.ErrRuntime):
		return ExitWorkerRuntime
	case errors.Is(err, config.ErrInvalid):
		return ExitUsage
	default:
		return ExitWorkerInit
	}
}

// exitCodeOf returns the exit code for an error returned by Execute.
// Errors that do not carry a code come from flag parsing.
func exitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitUsage
}
