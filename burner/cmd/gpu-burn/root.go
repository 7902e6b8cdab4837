package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/device"
	"github.com/obsidianstack/gpuburn/burner/internal/logging"
)

// rootOptions holds the raw flag values of the root command. Only flags the
// user actually set override the config file.
type rootOptions struct {
	configPath string

	memory      string
	doubles     bool
	tensorCores bool
	list        bool
	device      int
	compare     string
	backend     string

	logLevel  int
	logFormat string
	logFile   string

	gflopsMode      string
	gflopsThreshold string
	verbose         bool

	json     bool
	report   string
	listen   string
	textfile string

	telemetryCommand string
	workerCommand    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gpu-burn [TIME]",
		Short: "Burn-in test for compute devices",
		Long: `gpu-burn runs one compute worker per device for TIME seconds, watches
their throughput, miscompute counts and temperatures, and diagnoses every
device as OK, WARNING (low Gflops/s) or FAULTY (errors or zero Gflops/s).

Exit codes:
  0    every device OK or WARNING
  1    at least one device FAULTY
  19   no devices found
  22   invalid flags or configuration
  123  every worker died
  124  a worker failed to start or hand over the device count
  130  interrupted`,
		Example: `  gpu-burn -L 2 -tc 60     # burn all devices with tensor cores for a minute, log INFO and up
  gpu-burn -d 3600          # burn all devices with doubles for an hour
  gpu-burn -m 50% 120       # use half of the free memory
  gpu-burn -g S 9000 -v 60  # flag anything under 9000 Gflops/s, print figures
  gpu-burn -l               # list devices
  gpu-burn -i 2             # burn only device 2`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd.Flags(), opts, args)
			if err != nil {
				return &exitError{code: ExitUsage, err: err}
			}

			logger, level, closer, err := logging.Setup(cfg.Log, stderr)
			if err != nil {
				return &exitError{code: ExitUsage, err: err}
			}
			defer closer.Close()
			setDefaultLogger(logger)

			if opts.list {
				return listDevices(cmd, cfg, stdout)
			}
			return runBurn(cmd.Context(), cfg, runEnv{
				configPath: opts.configPath,
				args:       cmd.Flags().Args(),
				stdout:     stdout,
				stderr:     stderr,
				level:      level,
			})
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	bindRootFlags(cmd.Flags(), opts)
	cmd.AddCommand(newWorkerCmd(stderr))
	return cmd
}

// bindRootFlags registers the root command flags on f.
func bindRootFlags(f *pflag.FlagSet, opts *rootOptions) {
	f.StringVar(&opts.configPath, "config", "", "YAML config file; flags override its values")
	f.StringVarP(&opts.memory, "memory", "m", config.DefaultMemory, "memory to use: N (MB) or N% of the free memory")
	f.BoolVarP(&opts.doubles, "doubles", "d", false, "use double precision")
	f.BoolVar(&opts.tensorCores, "tensor-cores", false, "try to use tensor cores (also -tc)")
	f.BoolVarP(&opts.list, "list", "l", false, "list all devices in the system and exit")
	f.IntVarP(&opts.device, "device", "i", config.AllDevices, "burn only device N")
	f.StringVarP(&opts.compare, "compare", "c", config.DefaultCompareFile, "compare kernel file handed to the workers")
	f.StringVar(&opts.backend, "backend", "cpu", "device backend: cpu | nvidia")
	f.IntVarP(&opts.logLevel, "log-level", "L", config.DefaultLogLevel, "log level: 0 DEBUG, 1 VERBOSE, 2 INFO, 3 WARN, 4 ERROR, 5 NONE")
	f.StringVar(&opts.logFormat, "log-format", "json", "log format: json | text")
	f.StringVar(&opts.logFile, "log-file", "", "also write logs to this rotated file")
	f.StringVarP(&opts.gflopsMode, "gflops-mode", "g", "D", "low Gflops/s mode: D (dynamic, Q1 - T*IQR) or S (static, T Gflops/s)")
	f.StringVar(&opts.gflopsThreshold, "gflops-threshold", strconv.FormatFloat(config.DefaultThresholdValue, 'f', -1, 64), "low Gflops/s threshold T")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "show Gflops/s and temperature in the final summary")
	f.BoolVar(&opts.json, "json", false, "print the JSON report instead of the summary")
	f.StringVar(&opts.report, "report", "", "write the JSON report to this file")
	f.StringVar(&opts.listen, "listen", "", "serve live status, alerts and /metrics on this address")
	f.StringVar(&opts.textfile, "textfile", "", "write final metrics to this node_exporter textfile")
	f.StringVar(&opts.telemetryCommand, "telemetry-command", "", "temperature command line (\"none\" disables telemetry)")
	f.StringVar(&opts.workerCommand, "worker-command", "", "external worker executable (default: built-in cpu worker)")
}

// buildConfig loads the config file, if any, and applies every flag that was
// set on the command line.
func buildConfig(f *pflag.FlagSet, opts *rootOptions, args []string) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) == 1 {
		d, err := parseDuration(args[0])
		if err != nil {
			return nil, err
		}
		cfg.Run.Duration = d
	}

	if f.Changed("memory") {
		cfg.Worker.Memory = opts.memory
	}
	if f.Changed("doubles") && opts.doubles {
		cfg.Worker.Precision = config.PrecisionDouble
	}
	if f.Changed("tensor-cores") {
		cfg.Worker.TensorCores = opts.tensorCores
	}
	if f.Changed("device") {
		cfg.Run.Device = opts.device
	}
	if f.Changed("compare") {
		cfg.Worker.CompareFile = opts.compare
	}
	if f.Changed("backend") {
		cfg.Worker.Backend = opts.backend
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if f.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if f.Changed("verbose") {
		cfg.Run.Verbose = opts.verbose
	}
	if f.Changed("json") {
		cfg.Output.JSON = opts.json
	}
	if f.Changed("report") {
		cfg.Output.ReportPath = opts.report
	}
	if f.Changed("listen") {
		cfg.Status.Listen = opts.listen
	}
	if f.Changed("textfile") {
		cfg.Output.Textfile = opts.textfile
	}
	if f.Changed("worker-command") {
		cfg.Worker.Command = opts.workerCommand
	}
	if f.Changed("telemetry-command") {
		if opts.telemetryCommand == "none" {
			cfg.Telemetry.Source = "none"
		} else {
			cfg.Telemetry.Source = "command"
			cfg.Telemetry.Command = strings.Fields(opts.telemetryCommand)
		}
	}

	if f.Changed("gflops-mode") || f.Changed("gflops-threshold") {
		mode, value := string(cfg.Run.Threshold.Mode), strconv.FormatFloat(cfg.Run.Threshold.Value, 'f', -1, 64)
		if f.Changed("gflops-mode") {
			mode = opts.gflopsMode
		}
		if f.Changed("gflops-threshold") {
			value = opts.gflopsThreshold
		}
		t, err := config.ParseThreshold(mode, value)
		if err != nil {
			return nil, err
		}
		cfg.Run.Threshold = t
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts whole seconds, as the original gpu_burn does, or a
// Go duration string.
func parseDuration(s string) (time.Duration, error) {
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%w: TIME %q is neither seconds nor a duration", config.ErrInvalid, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: TIME must be positive, got %q", config.ErrInvalid, s)
	}
	return d, nil
}

// compatArgs rewrites the historical spellings "-tc" and "-g M T" into
// their long forms.
func compatArgs(args []string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		switch a := args[i]; {
		case a == "--":
			return append(out, args[i:]...)
		case a == "-tc":
			out = append(out, "--tensor-cores")
		case a == "-g" && i+2 < len(args) && isNumber(args[i+2]):
			out = append(out, "--gflops-mode", args[i+1], "--gflops-threshold", args[i+2])
			i += 2
		default:
			out = append(out, a)
		}
	}
	return out
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func listDevices(cmd *cobra.Command, cfg *config.Config, stdout io.Writer) error {
	devs, err := device.List(cmd.Context(), cfg.Worker.Backend, cfg.Worker.CPU.Devices)
	if err != nil {
		return &exitError{code: ExitNoDevices, err: err}
	}
	if len(devs) == 0 {
		return &exitError{code: ExitNoDevices, err: fmt.Errorf("no devices found")}
	}
	for _, d := range devs {
		fmt.Fprintln(stdout, d.String())
	}
	return nil
}
