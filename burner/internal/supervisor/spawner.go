package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// WorkerSpec is what a spawner needs to start one worker.
type WorkerSpec struct {
	Device    int
	Bootstrap bool
}

// Worker is a running worker as seen by the supervisor.
type Worker interface {
	// Channel is the read end of the worker channel.
	Channel() io.Reader

	// Kill terminates the worker immediately. It is safe to call more than
	// once and after the worker has exited.
	Kill() error

	// Wait blocks until the worker has exited and been reaped, releases the
	// channel, and returns the exit code (-1 when killed by a signal).
	Wait() (int, error)
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Worker, error)
}

// ExecSpawner starts each worker as a child process. The write end of an OS
// pipe is passed as file descriptor 3.
type ExecSpawner struct {
	// Path is the worker executable.
	Path string

	// Args builds the worker argv (without argv[0]) for spec.
	Args func(spec WorkerSpec) []string

	// Stdout and Stderr receive the worker's own output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(_ context.Context, spec WorkerSpec) (Worker, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: channel pipe: %w", err)
	}

	var args []string
	if s.Args != nil {
		args = s.Args(spec)
	}
	// Not CommandContext: the drain phase owns termination so reaping stays
	// in one place.
	cmd := exec.Command(s.Path, args...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("supervisor: start worker %d: %w", spec.Device, err)
	}
	// Only the child may hold the write end, or EOF never arrives.
	_ = w.Close()

	slog.Debug("supervisor: worker spawned", "device", spec.Device, "pid", cmd.Process.Pid, "bootstrap", spec.Bootstrap)
	return &execWorker{cmd: cmd, ch: r}, nil
}

type execWorker struct {
	cmd *exec.Cmd
	ch  *os.File

	waitOnce sync.Once
	code     int
	waitErr  error
}

func (w *execWorker) Channel() io.Reader { return w.ch }

func (w *execWorker) Kill() error {
	pid := w.cmd.Process.Pid
	// The worker leads its own process group; take any helpers with it.
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, unix.SIGKILL)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (w *execWorker) Wait() (int, error) {
	w.waitOnce.Do(func() {
		err := w.cmd.Wait()
		_ = w.ch.Close()
		w.code = w.cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			w.waitErr = err
		}
	})
	return w.code, w.waitErr
}

// WorkerFunc is the body of an in-process worker. It writes frames to ch
// and returns the exit code the process would have had.
type WorkerFunc func(ctx context.Context, spec WorkerSpec, ch io.Writer) int

// FuncSpawner runs workers as goroutines connected by io.Pipe.
type FuncSpawner struct {
	Func WorkerFunc
}

// Spawn implements Spawner.
func (s FuncSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Worker, error) {
	if s.Func == nil {
		return nil, errors.New("supervisor: nil worker func")
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pr, pw := io.Pipe()
	w := &funcWorker{
		pr:     pr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		w.code = s.Func(ctx, spec, pw)
		// Exited before the channel closes, so a Kill racing with the
		// reader's EOF sees a finished worker.
		close(w.done)
		_ = pw.Close()
	}()
	return w, nil
}

var errKilled = errors.New("worker killed")

type funcWorker struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	code   int

	mu     sync.Mutex
	killed bool
}

func (w *funcWorker) Channel() io.Reader { return w.pr }

func (w *funcWorker) Kill() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	default:
	}
	w.killed = true
	w.cancel()
	// Unblocks a worker stuck writing to a channel nobody reads.
	_ = w.pr.CloseWithError(errKilled)
	return nil
}

func (w *funcWorker) Wait() (int, error) {
	<-w.done
	_ = w.pr.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		return -1, nil
	}
	return w.code, nil
}
