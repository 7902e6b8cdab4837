package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/logging"
	"github.com/obsidianstack/gpuburn/burner/internal/supervisor"
	"github.com/obsidianstack/gpuburn/burner/internal/worker"
)

// channelFD is the descriptor on which a worker finds its channel.
const channelFD = 3

// workerOptions are the flags of the worker subcommand. The same flags are
// passed to an external worker command.
type workerOptions struct {
	device      int
	bootstrap   bool
	backend     string
	memory      string
	doubles     bool
	tensorCores bool
	compare     string
	cpuDevices  int
	matrixSize  int
	logLevel    int
	logFormat   string
}

func newWorkerCmd(stderr io.Writer) *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the built-in cpu compute worker (started by gpu-burn itself)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runWorker(cmd, opts, stderr)
			if err == nil {
				return nil
			}
			return &exitError{code: workerExitCode(err), err: err}
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.device, "device", 0, "device index to burn")
	f.BoolVar(&opts.bootstrap, "bootstrap", false, "write the device count before the first frame")
	f.StringVar(&opts.backend, "backend", "cpu", "device backend")
	f.StringVar(&opts.memory, "memory", config.DefaultMemory, "memory selector")
	f.BoolVar(&opts.doubles, "doubles", false, "use double precision")
	f.BoolVar(&opts.tensorCores, "tensor-cores", false, "use tensor math modes")
	f.StringVar(&opts.compare, "compare", config.DefaultCompareFile, "compare kernel file")
	f.IntVar(&opts.cpuDevices, "cpu-devices", config.DefaultCPUDevices, "virtual devices of the cpu backend")
	f.IntVar(&opts.matrixSize, "matrix-size", config.DefaultCPUMatrixSize, "matrix edge length of the cpu backend")
	f.IntVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "log level 0..5")
	f.StringVar(&opts.logFormat, "log-format", "json", "log format: json | text")
	return cmd
}

func runWorker(cmd *cobra.Command, opts *workerOptions, stderr io.Writer) error {
	logger, _, _, err := logging.Setup(config.LogConfig{Level: opts.logLevel, Format: opts.logFormat}, stderr)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	setDefaultLogger(logger.With("worker", opts.device))

	if opts.backend != "cpu" {
		return fmt.Errorf("%w: the built-in worker only drives the cpu backend, got %q", worker.ErrInit, opts.backend)
	}
	if opts.tensorCores {
		slog.Debug("worker: tensor cores are not available on the cpu backend")
	}

	ch := os.NewFile(channelFD, "worker-channel")
	if ch == nil {
		return fmt.Errorf("%w: no channel on fd %d", worker.ErrInit, channelFD)
	}
	defer ch.Close()

	mem, err := config.ParseMemory(opts.memory)
	if err != nil {
		return fmt.Errorf("%w: memory: %v", config.ErrInvalid, err)
	}
	free, err := worker.FreeMemory()
	if err != nil {
		return fmt.Errorf("%w: free memory: %v", worker.ErrInit, err)
	}

	k := worker.NewCPUKernel(worker.CPUConfig{
		Device:      opts.device,
		Devices:     opts.cpuDevices,
		MatrixSize:  opts.matrixSize,
		Double:      opts.doubles,
		MemoryBytes: mem.Bytes(free),
		Seed:        uint64(opts.device) + 1,
	})
	return worker.Run(cmd.Context(), k, ch, worker.Options{
		Device:      opts.device,
		Bootstrap:   opts.bootstrap,
		DeviceCount: opts.cpuDevices,
		Warmup:      worker.DefaultWarmup,
	})
}

// newSpawner starts workers as child processes: the configured worker
// command, or this executable's worker subcommand.
func newSpawner(cfg *config.Config, stderr io.Writer) (*supervisor.ExecSpawner, error) {
	path := cfg.Worker.Command
	var prefix []string
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: locate own executable: %v", supervisor.ErrLaunch, err)
		}
		path, prefix = exe, []string{"worker"}
	}
	return &supervisor.ExecSpawner{
		Path: path,
		Args: func(spec supervisor.WorkerSpec) []string {
			return append(append([]string(nil), prefix...), workerArgs(cfg, spec)...)
		},
		Stderr: stderr,
	}, nil
}

// workerArgs renders the worker flags for spec.
func workerArgs(cfg *config.Config, spec supervisor.WorkerSpec) []string {
	args := []string{
		"--device", strconv.Itoa(spec.Device),
		"--backend", cfg.Worker.Backend,
		"--memory", cfg.Worker.Memory,
		"--compare", cfg.Worker.CompareFile,
		"--cpu-devices", strconv.Itoa(cfg.Worker.CPU.Devices),
		"--matrix-size", strconv.Itoa(cfg.Worker.CPU.MatrixSize),
		"--log-level", strconv.Itoa(cfg.Log.Level),
		"--log-format", cfg.Log.Format,
	}
	if spec.Bootstrap {
		args = append(args, "--bootstrap")
	}
	if cfg.Worker.Precision == config.PrecisionDouble {
		args = append(args, "--doubles")
	}
	if cfg.Worker.TensorCores {
		args = append(args, "--tensor-cores")
	}
	return args
}
