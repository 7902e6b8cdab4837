// Package config loads and watches the gpu-burn run configuration (gpuburn.yaml).
//
// Top-level types:
//   - Config{Run, Worker, Telemetry, Log, Output, Status, Alerts}: full tree parsed from YAML
//   - RunConfig: duration, device selection (-1 = all), verbose summary, low-Gflop/s threshold
//   - Threshold: mode (dynamic|static) and value (IQR multiplier or Gflop/s floor)
//   - WorkerConfig: backend (cpu|nvidia), worker command, memory selector, precision,
//     tensor cores, compare kernel path, ops per iteration, cpu backend sizing
//   - TelemetryConfig: source (command|exporter|none), command argv, exporter endpoint,
//     metric name, poll interval, restart budget
//   - LogConfig: level 0-5, format (json|text), optional rotated log file
//   - OutputConfig, StatusConfig, AlertsConfig: report/textfile paths, live status
//     server, alert rules and webhooks
//
// Load(path) reads the YAML file, applies defaults (10s run, all devices, dynamic
// threshold 1.5, 90% memory, cpu backend, nvidia-smi telemetry, VERBOSE logging),
// then validates. Default() returns the same defaults without a file so the CLI can
// run with flags alone; callers that mutate a Config must call Validate again.
//
// ParseMemory ("1024" MB or "50%") and ParseThreshold ("D"/"S" + value) decode the
// compact CLI forms.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes during a run and
// calls onChange with the newly parsed Config. It re-adds the watch after a write so
// atomic-save editors (rename→create) keep working.
package config
