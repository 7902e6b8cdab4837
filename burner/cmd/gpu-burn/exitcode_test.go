package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/burner/internal/supervisor"
	"github.com/obsidianstack/gpuburn/burner/internal/worker"
)

func TestRunExitCode(t *testing.T) {
	failed := diagnosis.Outcome{Failed: true}
	tests := []struct {
		name string
		err  error
		out  diagnosis.Outcome
		want int
	}{
		{"all ok", nil, diagnosis.Outcome{}, ExitOK},
		{"faulty device", nil, failed, ExitFaulty},
		{"interrupted", fmt.Errorf("run: %w", context.Canceled), failed, ExitInterrupted},
		{"no devices", supervisor.ErrNoDevices, diagnosis.Outcome{}, ExitNoDevices},
		{"all dead", supervisor.ErrAllWorkersDead, failed, ExitAllDead},
		{"handshake", fmt.Errorf("%w: eof", supervisor.ErrHandshake), diagnosis.Outcome{}, ExitWorkerInit},
		{"launch", fmt.Errorf("%w: device 1", supervisor.ErrLaunch), diagnosis.Outcome{}, ExitWorkerInit},
		{"config", fmt.Errorf("%w: bad", config.ErrInvalid), diagnosis.Outcome{}, ExitUsage},
		{"unknown", errors.New("boom"), diagnosis.Outcome{}, ExitFaulty},
	}
	for _, tt := range tests {
		if got := runExitCode(tt.err, tt.out); got != tt.want {
			t.Errorf("%s: runExitCode = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestWorkerExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("%w: device 0: out of memory", worker.ErrInit), ExitWorkerInit},
		{fmt.Errorf("%w: device 0: nan", worker.ErrRuntime), ExitWorkerRuntime},
		{fmt.Errorf("%w: memory", config.ErrInvalid), ExitUsage},
	}
	for _, tt := range tests {
		if got := workerExitCode(tt.err); got != tt.want {
			t.Errorf("workerExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestExitCodeOf(t *testing.T) {
	if got := exitCodeOf(nil); got != ExitOK {
		t.Errorf("nil: got %d", got)
	}
	if got := exitCodeOf(errors.New("unknown flag: --frobnicate")); got != ExitUsage {
		t.Errorf("flag error: got %d, want %d", got, ExitUsage)
	}
	wrapped := fmt.Errorf("execute: %w", &exitError{code: ExitAllDead, err: supervisor.ErrAllWorkersDead})
	if got := exitCodeOf(wrapped); got != ExitAllDead {
		t.Errorf("wrapped exitError: got %d, want %d", got, ExitAllDead)
	}
	if !errors.Is(wrapped, supervisor.ErrAllWorkersDead) {
		t.Error("exitError does not unwrap to its cause")
	}
	if msg := (&exitError{code: ExitFaulty}).Error(); msg != "exit status 1" {
		t.Errorf("Error() = %q", msg)
	}
}
