// Package telemetry turns hardware telemetry into per-device temperature
// readings.
//
// Two sources implement Sampler:
//
//   - CommandSampler runs a long-lived text-emitting tool (by default
//     `nvidia-smi -l 5 -q -d TEMPERATURE`), reads its output one line at a
//     time and emits unlabelled readings. If the tool exits it is restarted
//     with exponential backoff up to a fixed budget.
//   - ExporterSampler polls a Prometheus endpoint (e.g. the DCGM exporter) and
//     emits readings labelled with their device index.
//
// ParseLine recognises two line shapes: "GPU Current Temp : <n> C" yields a
// value and "Gpu : N/A" yields a not-applicable reading. Every other line is
// ignored.
//
// Tracker attributes unlabelled readings strictly round-robin. It assumes the
// tool lists devices in index order, one reading per device per cycle; a
// device that prints neither shape shifts attribution for the rest of the
// cycle. Labelled readings go straight to their slot.
package telemetry
