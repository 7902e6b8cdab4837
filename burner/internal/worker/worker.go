package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/obsidianstack/gpuburn/burner/internal/protocol"
)

var (
	// ErrInit reports a failure before the first frame; no frame was written.
	ErrInit = errors.New("worker: init failed")

	// ErrRuntime reports a failure during the compute loop; the death frame
	// was written (or the channel is gone).
	ErrRuntime = errors.New("worker: compute failed")
)

// DefaultWarmup is the number of leading batches not reported. The first
// batch includes allocation and clock ramp-up and would skew throughput.
const DefaultWarmup = 1

// Kernel is one device's workload.
type Kernel interface {
	// Init claims the device and allocates buffers.
	Init(ctx context.Context) error

	// Batch runs one compute-and-compare cycle. It returns the number of
	// iterations computed and the number of faulty elements found.
	Batch(ctx context.Context) (iterations, faults int, err error)

	// Close releases everything Init acquired.
	Close() error
}

// Options controls one worker run.
type Options struct {
	// Device is the index the worker is bound to.
	Device int

	// Bootstrap makes the worker write DeviceCount before any frame.
	Bootstrap   bool
	DeviceCount int

	// Warmup is the number of leading batches not reported.
	Warmup int
}

// Run drives k until ctx is cancelled, reporting progress on ch.
// A cancelled run returns nil.
func Run(ctx context.Context, k Kernel, ch io.Writer, opts Options) error {
	log := slog.With("device", opts.Device)

	if err := k.Init(ctx); err != nil {
		log.Error("worker: couldn't init a device test", "err", err)
		return fmt.Errorf("%w: device %d: %v", ErrInit, opts.Device, err)
	}
	defer func() {
		if err := k.Close(); err != nil {
			log.Warn("worker: release failed", "err", err)
		}
	}()

	if opts.Bootstrap {
		if err := protocol.WriteDeviceCount(ch, opts.DeviceCount); err != nil {
			return fmt.Errorf("%w: handshake: %v", ErrInit, err)
		}
	}

	for batch := 1; ; batch++ {
		if ctx.Err() != nil {
			return nil
		}

		iters, faults, err := k.Batch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("worker: failure during compute", "err", err)
			if werr := protocol.WriteDeath(ch); werr != nil {
				log.Debug("worker: death frame not delivered", "err", werr)
			}
			return fmt.Errorf("%w: device %d: %v", ErrRuntime, opts.Device, err)
		}

		if batch <= opts.Warmup {
			continue
		}

		f := protocol.Frame{Processed: int32(iters), Errors: int32(faults)}
		if err := protocol.WriteFrame(ch, f); err != nil {
			// The supervisor closed its end; nobody is listening.
			return fmt.Errorf("%w: report: %v", ErrRuntime, err)
		}
		log.Debug("worker: batch reported", "iterations", iters, "faults", faults)
	}
}
