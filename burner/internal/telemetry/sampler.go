package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
)

// Sampler produces temperature readings until stopped.
type Sampler interface {
	// Start begins sampling. The returned channel is closed when sampling
	// ends for good. An error means the source is unavailable.
	Start(ctx context.Context) (<-chan Reading, error)

	// Stop terminates sampling, kills any child process and waits for it to
	// be reaped. Stop is idempotent and safe to call without Start.
	Stop()
}

// New returns the Sampler described by cfg, or nil when telemetry is
// disabled.
func New(cfg config.TelemetryConfig) Sampler {
	switch cfg.Source {
	case "command":
		return NewCommandSampler(cfg.Command, cfg.MaxRestarts)
	case "exporter":
		return NewExporterSampler(cfg.Endpoint, cfg.Metric, cfg.DeviceLabel, cfg.Interval, nil)
	default:
		return nil
	}
}

// readingBuffer bounds how far the sampler can run ahead of the consumer.
const readingBuffer = 64

// CommandSampler streams readings from a long-lived telemetry process.
type CommandSampler struct {
	argv        []string
	maxRestarts int

	// NewBackOff builds the restart policy; replaced in tests.
	NewBackOff func() backoff.BackOff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommandSampler returns a sampler running argv, restarted at most
// maxRestarts times if it exits on its own.
func NewCommandSampler(argv []string, maxRestarts int) *CommandSampler {
	return &CommandSampler{
		argv:        argv,
		maxRestarts: maxRestarts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Start spawns the telemetry process. A spawn failure is returned and
// nothing keeps running.
func (s *CommandSampler) Start(ctx context.Context) (<-chan Reading, error) {
	if len(s.argv) == 0 {
		return nil, errors.New("telemetry: empty command")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil, errors.New("telemetry: sampler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd, stdout, err := s.spawn(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Reading, readingBuffer)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, cmd, stdout, out)

	slog.Debug("telemetry: command started", "argv", s.argv, "pid", cmd.Process.Pid)
	return out, nil
}

// Stop kills the telemetry process and waits until it has been reaped.
func (s *CommandSampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *CommandSampler) spawn(ctx context.Context) (*exec.Cmd, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("telemetry: start %q: %w", s.argv[0], err)
	}
	return cmd, stdout, nil
}

func (s *CommandSampler) run(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, out chan<- Reading) {
	defer close(s.done)
	defer close(out)

	bo := backoff.WithContext(backoff.WithMaxRetries(s.NewBackOff(), uint64(max(s.maxRestarts, 0))), ctx)

	for {
		pump(ctx, stdout, out)
		err := cmd.Wait()
		if ctx.Err() != nil {
			return
		}
		slog.Warn("telemetry: command exited", "argv", s.argv, "err", err)

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			slog.Warn("telemetry: giving up, temperatures stay at their last value", "restarts", s.maxRestarts)
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		cmd, stdout, err = s.spawn(ctx)
		if err != nil {
			slog.Warn("telemetry: restart failed", "err", err)
			return
		}
		slog.Info("telemetry: command restarted", "pid", cmd.Process.Pid)
		select {
		case out <- Reading{Kind: KindReset, Device: Unlabelled}:
		case <-ctx.Done():
		}
	}
}

// pump forwards every recognised line of r to out until r is exhausted or
// ctx is cancelled. Lines have no length limit.
func pump(ctx context.Context, r io.Reader, out chan<- Reading) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if reading, ok := ParseLine(line); ok {
				select {
				case out <- reading:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
