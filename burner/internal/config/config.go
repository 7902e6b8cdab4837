package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultDuration          = 10 * time.Second
	DefaultThresholdValue    = 1.5
	DefaultMemory            = "90%"
	DefaultCompareFile       = "compare.ptx"
	DefaultTelemetryInterval = 5 * time.Second
	DefaultMaxRestarts       = 3
	DefaultLogLevel          = 1 // VERBOSE
	DefaultStatusInterval    = 2 * time.Second
	DefaultCPUDevices        = 1
	DefaultCPUMatrixSize     = 256

	// DefaultOpsPerIteration is the operation count of one 8192x8192 GEMM as
	// measured for cuBLAS; vendor workers report iterations of this size.
	DefaultOpsPerIteration = 1100048498688
)

// AllDevices selects every discovered device.
const AllDevices = -1

// ErrInvalid wraps every validation failure so callers can map it to a
// usage error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level gpu-burn configuration.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Worker    WorkerConfig    `yaml:"worker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Output    OutputConfig    `yaml:"output"`
	Status    StatusConfig    `yaml:"status"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// RunConfig holds the settings that shape one burn run.
type RunConfig struct {
	// Duration is the time budget of the run.
	Duration time.Duration `yaml:"duration"`

	// Device is the single device index to burn, or AllDevices.
	Device int `yaml:"device"`

	// Verbose adds Gflop/s and temperature to each line of the final summary.
	Verbose bool `yaml:"verbose"`

	// Threshold decides when a device's throughput is flagged as low.
	Threshold Threshold `yaml:"threshold"`
}

// ThresholdMode selects how the low-throughput cut-off is obtained.
type ThresholdMode string

const (
	// ThresholdDynamic derives the cut-off from peers: Q1 - value*IQR.
	ThresholdDynamic ThresholdMode = "dynamic"
	// ThresholdStatic uses value as an absolute Gflop/s floor.
	ThresholdStatic ThresholdMode = "static"
)

// Threshold is the low-throughput rule.
type Threshold struct {
	Mode  ThresholdMode `yaml:"mode"`
	Value float64       `yaml:"value"`
}

// String renders the threshold the way the CLI accepts it.
func (t Threshold) String() string {
	switch t.Mode {
	case ThresholdStatic:
		return fmt.Sprintf("S %g", t.Value)
	default:
		return fmt.Sprintf("D %g", t.Value)
	}
}

// Precision is the floating point width used by the workers.
type Precision string

const (
	PrecisionSingle Precision = "single"
	PrecisionDouble Precision = "double"
)

// WorkerConfig holds the settings forwarded to every compute worker.
type WorkerConfig struct {
	// Backend is the device family: cpu | nvidia.
	Backend string `yaml:"backend"`

	// Command is the worker executable. Empty means re-executing gpu-burn
	// itself with the built-in worker subcommand.
	Command string `yaml:"command"`

	// Memory is the memory selector: absolute MB ("4096") or a percentage
	// of free device memory ("90%").
	Memory string `yaml:"memory"`

	// Precision selects single or double precision GEMM.
	Precision Precision `yaml:"precision"`

	// TensorCores asks the worker to enable tensor math modes.
	TensorCores bool `yaml:"tensor_cores"`

	// CompareFile is the path of the comparison kernel handed to workers.
	CompareFile string `yaml:"compare_file"`

	// OpsPerIteration converts reported iterations into flops.
	// Zero selects the backend default.
	OpsPerIteration float64 `yaml:"ops_per_iteration"`

	// CPU sizes the built-in cpu backend.
	CPU CPUConfig `yaml:"cpu"`
}

// CPUConfig sizes the built-in cpu backend.
type CPUConfig struct {
	// Devices is the number of virtual devices the cpu backend exposes.
	Devices int `yaml:"devices"`

	// MatrixSize is the edge length of the square matrices multiplied.
	MatrixSize int `yaml:"matrix_size"`
}

// EffectiveOpsPerIteration returns the configured ops per iteration or the
// backend default.
func (w WorkerConfig) EffectiveOpsPerIteration() float64 {
	if w.OpsPerIteration > 0 {
		return w.OpsPerIteration
	}
	if w.Backend == "cpu" {
		n := float64(w.CPU.MatrixSize)
		return 2 * n * n * n
	}
	return DefaultOpsPerIteration
}

// TelemetryConfig configures the temperature source.
type TelemetryConfig struct {
	// Source is one of: command | exporter | none.
	Source string `yaml:"source"`

	// Command is the argv of the long-lived telemetry process.
	Command []string `yaml:"command"`

	// Endpoint is the Prometheus endpoint scraped when Source == "exporter".
	Endpoint string `yaml:"endpoint"`

	// Metric is the temperature gauge name read from Endpoint.
	Metric string `yaml:"metric"`

	// DeviceLabel is the label carrying the device index on Metric.
	DeviceLabel string `yaml:"device_label"`

	// Interval is the exporter poll period.
	Interval time.Duration `yaml:"interval"`

	// MaxRestarts bounds how often an exited telemetry process is restarted.
	MaxRestarts int `yaml:"max_restarts"`
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is 0 DEBUG, 1 VERBOSE, 2 INFO, 3 WARN, 4 ERROR, 5 NONE.
	Level int `yaml:"level"`

	// Format is json | text.
	Format string `yaml:"format"`

	// File, when set, receives a rotated copy of the log.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// OutputConfig configures result artefacts.
type OutputConfig struct {
	// JSON prints the machine-readable report on stdout instead of the
	// terminal summary.
	JSON bool `yaml:"json"`

	// ReportPath, when set, receives the JSON report.
	ReportPath string `yaml:"report_path"`

	// Textfile, when set, receives the final metrics in Prometheus text
	// format (node_exporter textfile collector).
	Textfile string `yaml:"textfile"`
}

// StatusConfig configures the optional live status server.
type StatusConfig struct {
	// Listen is the HTTP address; empty disables the server.
	Listen string `yaml:"listen"`

	// Interval is the WebSocket broadcast period.
	Interval time.Duration `yaml:"interval"`

	// Auth protects the status endpoints.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures API key authentication of the status server.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the request header carrying the key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header or the default X-API-Key.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return "X-API-Key"
	}
	return a.Header
}

// AlertsConfig holds alert rules and webhook targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a per-device threshold condition.
type AlertRule struct {
	// Name is the human-readable alert identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "temperature > 85" or "state == dead".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Duration:  DefaultDuration,
			Device:    AllDevices,
			Threshold: Threshold{Mode: ThresholdDynamic, Value: DefaultThresholdValue},
		},
		Worker: WorkerConfig{
			Backend:     "cpu",
			Memory:      DefaultMemory,
			Precision:   PrecisionSingle,
			CompareFile: DefaultCompareFile,
			CPU: CPUConfig{
				Devices:    DefaultCPUDevices,
				MatrixSize: DefaultCPUMatrixSize,
			},
		},
		Telemetry: TelemetryConfig{
			Source:      "command",
			Command:     []string{"nvidia-smi", "-l", "5", "-q", "-d", "TEMPERATURE"},
			Metric:      "DCGM_FI_DEV_GPU_TEMP",
			DeviceLabel: "gpu",
			Interval:    DefaultTelemetryInterval,
			MaxRestarts: DefaultMaxRestarts,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Status: StatusConfig{
			Interval: DefaultStatusInterval,
		},
	}
}

// Validate checks required fields and structural constraints.
func (c *Config) Validate() error {
	if c.Run.Duration <= 0 {
		return invalid("run.duration must be positive")
	}
	if c.Run.Device < AllDevices {
		return invalid("run.device must be a device index or -1 for all devices")
	}
	switch c.Run.Threshold.Mode {
	case ThresholdDynamic:
		if c.Run.Threshold.Value < 0 {
			return invalid("run.threshold.value must not be negative in dynamic mode")
		}
	case ThresholdStatic:
	default:
		return invalid("run.threshold.mode: unknown mode %q", c.Run.Threshold.Mode)
	}

	switch c.Worker.Backend {
	case "cpu", "nvidia":
	default:
		return invalid("worker.backend: unknown backend %q", c.Worker.Backend)
	}
	if _, err := ParseMemory(c.Worker.Memory); err != nil {
		return invalid("worker.memory: %v", err)
	}
	switch c.Worker.Precision {
	case PrecisionSingle, PrecisionDouble:
	default:
		return invalid("worker.precision: unknown precision %q", c.Worker.Precision)
	}
	if c.Worker.Backend == "cpu" {
		if c.Worker.CPU.Devices <= 0 {
			return invalid("worker.cpu.devices must be positive")
		}
		if c.Worker.CPU.MatrixSize <= 0 {
			return invalid("worker.cpu.matrix_size must be positive")
		}
	}

	switch c.Telemetry.Source {
	case "command":
		if len(c.Telemetry.Command) == 0 {
			return invalid("telemetry.command is required for source command")
		}
	case "exporter":
		if c.Telemetry.Endpoint == "" {
			return invalid("telemetry.endpoint is required for source exporter")
		}
		if c.Telemetry.Interval <= 0 {
			return invalid("telemetry.interval must be positive")
		}
	case "none", "":
	default:
		return invalid("telemetry.source: unknown source %q", c.Telemetry.Source)
	}

	if c.Log.Level < 0 || c.Log.Level > 5 {
		return invalid("log.level must be between 0 and 5")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format: unknown format %q", c.Log.Format)
	}

	switch c.Status.Auth.Mode {
	case "apikey":
		if c.Status.Auth.KeyEnv == "" {
			return invalid("status.auth.key_env is required in apikey mode")
		}
	case "none", "":
	default:
		return invalid("status.auth.mode: unknown mode %q", c.Status.Auth.Mode)
	}
	if c.Status.Listen != "" && c.Status.Interval <= 0 {
		return invalid("status.interval must be positive")
	}

	for i, r := range c.Alerts.Rules {
		if r.Name == "" {
			return invalid("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return invalid("alerts.rules[%d] %q: condition must be \"field op value\"", i, r.Name)
		}
	}
	for i, w := range c.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return invalid("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Memory is a decoded memory selector.
type Memory struct {
	// MB is an absolute amount in megabytes; zero when Percent is used.
	MB int64
	// Percent is a share of free memory in (0, 100]; zero when MB is used.
	Percent float64
}

// Bytes resolves the selector against the currently free memory.
func (m Memory) Bytes(free uint64) uint64 {
	if m.MB > 0 {
		return uint64(m.MB) * 1024 * 1024
	}
	return uint64(float64(free) * m.Percent / 100)
}

// String renders the selector in CLI form.
func (m Memory) String() string {
	if m.MB > 0 {
		return strconv.FormatInt(m.MB, 10)
	}
	return strconv.FormatFloat(m.Percent, 'f', -1, 64) + "%"
}

// ParseMemory decodes "NNN" (megabytes) or "NN%" (percentage of free memory).
func ParseMemory(s string) (Memory, error) {
	s = strings.TrimSpace(s)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil || v <= 0 || v > 100 {
			return Memory{}, fmt.Errorf("bad percentage %q", s)
		}
		return Memory{Percent: v}, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return Memory{}, fmt.Errorf("bad megabyte count %q", s)
	}
	return Memory{MB: v}, nil
}

// ParseThreshold decodes the CLI pair "D 1.5" / "S 9000". Mode accepts the
// single letters and the long names.
func ParseThreshold(mode, value string) (Threshold, error) {
	var t Threshold
	switch strings.ToLower(mode) {
	case "d", "dynamic":
		t.Mode = ThresholdDynamic
	case "s", "static":
		t.Mode = ThresholdStatic
	default:
		return t, invalid("mode should either be 'D' for dynamic or 'S' for static, got %q", mode)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return t, invalid("threshold value %q is not a number", value)
	}
	t.Value = v
	return t, nil
}
