package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
run:
  duration: 1h
  device: 2
  verbose: true
  threshold:
    mode: static
    value: 9000
worker:
  backend: nvidia
  command: /opt/gpu-burn/worker
  memory: "4096"
  precision: double
  tensor_cores: true
telemetry:
  source: exporter
  endpoint: "http://localhost:9400/metrics"
  interval: 10s
log:
  level: 3
  format: text
`
	cfg := loadFromString(t, yaml)

	if cfg.Run.Duration != time.Hour {
		t.Errorf("duration: got %v", cfg.Run.Duration)
	}
	if cfg.Run.Device != 2 {
		t.Errorf("device: got %d", cfg.Run.Device)
	}
	if !cfg.Run.Verbose {
		t.Error("verbose: got false")
	}
	if cfg.Run.Threshold != (Threshold{Mode: ThresholdStatic, Value: 9000}) {
		t.Errorf("threshold: got %+v", cfg.Run.Threshold)
	}
	if cfg.Worker.Backend != "nvidia" || cfg.Worker.Command != "/opt/gpu-burn/worker" {
		t.Errorf("worker: got %+v", cfg.Worker)
	}
	if cfg.Worker.Precision != PrecisionDouble || !cfg.Worker.TensorCores {
		t.Errorf("worker precision/tensor: got %q/%v", cfg.Worker.Precision, cfg.Worker.TensorCores)
	}
	if cfg.Telemetry.Source != "exporter" || cfg.Telemetry.Interval != 10*time.Second {
		t.Errorf("telemetry: got %+v", cfg.Telemetry)
	}
	if cfg.Log.Level != 3 || cfg.Log.Format != "text" {
		t.Errorf("log: got %+v", cfg.Log)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "run:\n  verbose: false\n")

	if cfg.Run.Duration != DefaultDuration {
		t.Errorf("default duration: got %v, want %v", cfg.Run.Duration, DefaultDuration)
	}
	if cfg.Run.Device != AllDevices {
		t.Errorf("default device: got %d, want %d", cfg.Run.Device, AllDevices)
	}
	if cfg.Run.Threshold != (Threshold{Mode: ThresholdDynamic, Value: DefaultThresholdValue}) {
		t.Errorf("default threshold: got %+v", cfg.Run.Threshold)
	}
	if cfg.Worker.Memory != DefaultMemory {
		t.Errorf("default memory: got %q", cfg.Worker.Memory)
	}
	if cfg.Worker.CompareFile != DefaultCompareFile {
		t.Errorf("default compare file: got %q", cfg.Worker.CompareFile)
	}
	if cfg.Telemetry.MaxRestarts != DefaultMaxRestarts {
		t.Errorf("default max_restarts: got %d", cfg.Telemetry.MaxRestarts)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("default log level: got %d", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"negative duration", "run:\n  duration: -5s\n"},
		{"bad device", "run:\n  device: -3\n"},
		{"unknown threshold mode", "run:\n  threshold:\n    mode: median\n"},
		{"negative multiplier", "run:\n  threshold:\n    mode: dynamic\n    value: -1\n"},
		{"unknown backend", "worker:\n  backend: fpga\n"},
		{"bad memory", "worker:\n  memory: lots\n"},
		{"memory over 100%", "worker:\n  memory: 150%\n"},
		{"unknown precision", "worker:\n  precision: half\n"},
		{"exporter without endpoint", "telemetry:\n  source: exporter\n"},
		{"unknown telemetry source", "telemetry:\n  source: ipmi\n"},
		{"log level too high", "log:\n  level: 6\n"},
		{"unknown log format", "log:\n  format: xml\n"},
		{"unknown auth mode", "status:\n  auth:\n    mode: bearer\n"},
		{"apikey without key env", "status:\n  auth:\n    mode: apikey\n"},
		{"rule without name", "alerts:\n  rules:\n    - condition: temperature > 90\n"},
		{"malformed condition", "alerts:\n  rules:\n    - name: hot\n      condition: temperature>90\n"},
		{"unknown webhook", "alerts:\n  webhooks:\n    - type: pager\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in      string
		want    Memory
		wantErr bool
	}{
		{"4096", Memory{MB: 4096}, false},
		{"90%", Memory{Percent: 90}, false},
		{" 12.5% ", Memory{Percent: 12.5}, false},
		{"100%", Memory{Percent: 100}, false},
		{"0", Memory{}, true},
		{"0%", Memory{}, true},
		{"101%", Memory{}, true},
		{"-5", Memory{}, true},
		{"abc", Memory{}, true},
		{"", Memory{}, true},
	}
	for _, tc := range cases {
		got, err := ParseMemory(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseMemory(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMemory(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestMemory_Bytes(t *testing.T) {
	if got := (Memory{MB: 2}).Bytes(1 << 40); got != 2*1024*1024 {
		t.Errorf("absolute: got %d", got)
	}
	if got := (Memory{Percent: 50}).Bytes(1000); got != 500 {
		t.Errorf("percent: got %d", got)
	}
}

func TestParseThreshold(t *testing.T) {
	cases := []struct {
		mode, value string
		want        Threshold
		wantErr     bool
	}{
		{"D", "1.5", Threshold{ThresholdDynamic, 1.5}, false},
		{"dynamic", "3", Threshold{ThresholdDynamic, 3}, false},
		{"S", "9000", Threshold{ThresholdStatic, 9000}, false},
		{"static", "0.5", Threshold{ThresholdStatic, 0.5}, false},
		{"X", "1", Threshold{}, true},
		{"D", "fast", Threshold{}, true},
	}
	for _, tc := range cases {
		got, err := ParseThreshold(tc.mode, tc.value)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseThreshold(%q, %q) err = %v, wantErr %v", tc.mode, tc.value, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseThreshold(%q, %q) = %+v, want %+v", tc.mode, tc.value, got, tc.want)
		}
	}
}

func TestEffectiveOpsPerIteration(t *testing.T) {
	w := WorkerConfig{Backend: "cpu", CPU: CPUConfig{MatrixSize: 10}}
	if got := w.EffectiveOpsPerIteration(); got != 2000 {
		t.Errorf("cpu: got %v, want 2000", got)
	}
	w = WorkerConfig{Backend: "nvidia"}
	if got := w.EffectiveOpsPerIteration(); got != DefaultOpsPerIteration {
		t.Errorf("nvidia: got %v", got)
	}
	w.OpsPerIteration = 42
	if got := w.EffectiveOpsPerIteration(); got != 42 {
		t.Errorf("override: got %v", got)
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("GPUBURN_TEST_KEY", "secret-123")
	a := AuthConfig{KeyEnv: "GPUBURN_TEST_KEY"}
	if got := a.Key(); got != "secret-123" {
		t.Errorf("Key() = %q, want secret-123", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("empty KeyEnv: Key() = %q", got)
	}
	if got := a.EffectiveHeader(); got != "X-API-Key" {
		t.Errorf("EffectiveHeader() = %q", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("GPUBURN_TEST_HOOK", "https://hooks.example.com/x")
	w := WebhookConfig{Type: "slack", URLEnv: "GPUBURN_TEST_HOOK"}
	if got := w.URL(); got != "https://hooks.example.com/x" {
		t.Errorf("URL() = %q", got)
	}
}

func TestWatch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpuburn.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: 2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := os.WriteFile(path, []byte("log:\n  level: 4\n"), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		select {
		case cfg := <-got:
			// A truncating write can surface as a reload of an empty file.
			if cfg.Log.Level != 4 {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned %v", err)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpuburn.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
