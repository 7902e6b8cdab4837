// Package metrics exposes per-device burn metrics in Prometheus format, both
// live over HTTP and as a node_exporter textfile written at the end of a run.
package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

const (
	namespace = "gpuburn"
	subsystem = "device"
)

// deviceLabels identify one device series.
var deviceLabels = []string{"gpu"}

// Verdict gauge values.
const (
	verdictOK      = 0
	verdictWarning = 1
	verdictFaulty  = 2
)

// Metrics holds the burn gauges in a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	gflops      *prometheus.GaugeVec
	errors      *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	processed   *prometheus.GaugeVec
	alive       *prometheus.GaugeVec
	verdict     *prometheus.GaugeVec

	progress prometheus.Gauge
	failed   prometheus.Gauge
}

// New registers the gauges. runID, when set, is attached to every series.
func New(runID string) *Metrics {
	constLabels := prometheus.Labels{}
	if runID != "" {
		constLabels["run_id"] = runID
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, deviceLabels)
	}

	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		gflops:      gauge("gflops", "Latest measured throughput of the device in Gflop/s"),
		errors:      gauge("errors_total", "Miscomputed elements reported by the device worker since the run started"),
		temperature: gauge("temperature_celsius", "Latest device temperature in degrees Celsius"),
		processed:   gauge("processed_iterations", "GEMM iterations completed by the device worker"),
		alive:       gauge("alive", "1 while the device worker is reporting, 0 once it died"),
		verdict:     gauge("verdict", "Final diagnosis: 0 OK, 1 WARNING, 2 FAULTY"),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "progress_percent",
			Help:        "Share of the time budget elapsed",
			ConstLabels: constLabels,
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_failed",
			Help:        "1 when at least one device was diagnosed FAULTY",
			ConstLabels: constLabels,
		}),
	}
	m.registry.MustRegister(
		m.gflops, m.errors, m.temperature, m.processed, m.alive, m.verdict,
		m.progress, m.failed,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe updates every gauge from snap. Safe for concurrent use.
func (m *Metrics) Observe(snap types.Snapshot) {
	m.progress.Set(snap.ProgressPct)
	anyFaulty := false
	for _, d := range snap.Devices {
		gpu := strconv.Itoa(d.Index)
		m.gflops.WithLabelValues(gpu).Set(d.Gflops)
		m.errors.WithLabelValues(gpu).Set(float64(d.Errors))
		m.processed.WithLabelValues(gpu).Set(float64(d.Processed))
		if d.TemperatureKnown {
			m.temperature.WithLabelValues(gpu).Set(float64(d.TemperatureC))
		}
		if d.Alive() {
			m.alive.WithLabelValues(gpu).Set(1)
		} else {
			m.alive.WithLabelValues(gpu).Set(0)
		}
		switch d.Verdict {
		case "OK":
			m.verdict.WithLabelValues(gpu).Set(verdictOK)
		case "WARNING":
			m.verdict.WithLabelValues(gpu).Set(verdictWarning)
		case "FAULTY":
			m.verdict.WithLabelValues(gpu).Set(verdictFaulty)
			anyFaulty = true
		}
	}
	if anyFaulty {
		m.failed.Set(1)
	} else {
		m.failed.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText writes every gathered family in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	mfs, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile writes the metrics to path for the node_exporter textfile
// collector. The file is replaced atomically so a scrape never sees a
// partial file.
func (m *Metrics) WriteTextfile(path string) error {
	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".gpuburn-*.prom")
	if err != nil {
		return fmt.Errorf("metrics: create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("metrics: close textfile: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("metrics: chmod textfile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("metrics: rename textfile: %w", err)
	}
	return nil
}
