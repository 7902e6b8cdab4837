// Package report renders the outcome of a burn run: the terminal summary
// printed at the end of every run and the machine-readable JSON report
// consumed by health-check epilogs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

// Report is the machine-readable result of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationS  float64   `json:"duration_s"`
	BudgetS    float64   `json:"budget_s"`
	Arguments  []string  `json:"arguments"`
	Threshold  string    `json:"threshold"`
	LowerBound float64   `json:"lower_bound_gflops"`

	Devices []Device `json:"devices"`

	// Result is "pass" or "fail"; Error carries a run-level failure.
	Result      string `json:"result"`
	Error       string `json:"error,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	ExitCode    int    `json:"exit_code"`
}

// Device is one line of the report.
type Device struct {
	Index        int     `json:"index"`
	Diagnosis    string  `json:"diagnosis"`
	Verdict      string  `json:"verdict"`
	Reason       string  `json:"reason,omitempty"`
	Gflops       float64 `json:"gflops"`
	Processed    int64   `json:"processed"`
	Errors       int64   `json:"errors"`
	TemperatureC *int    `json:"temperature_c,omitempty"`
	State        string  `json:"state"`
	NeverAlive   bool    `json:"never_alive,omitempty"`
	ExitCode     *int    `json:"exit_code,omitempty"`
}

// Meta is the run context that is not part of the snapshot.
type Meta struct {
	Arguments   []string
	Threshold   config.Threshold
	ExitCode    int
	Err         error
	Interrupted bool
}

// Build assembles the report for a diagnosed run. out.Devices must be in
// snapshot order.
func Build(snap types.Snapshot, out diagnosis.Outcome, meta Meta) Report {
	r := Report{
		RunID:       snap.RunID,
		StartedAt:   snap.StartedAt,
		DurationS:   snap.Elapsed.Seconds(),
		BudgetS:     snap.Budget.Seconds(),
		Arguments:   meta.Arguments,
		Threshold:   meta.Threshold.String(),
		LowerBound:  out.LowerBound,
		Devices:     make([]Device, len(snap.Devices)),
		Result:      "pass",
		Interrupted: meta.Interrupted,
		ExitCode:    meta.ExitCode,
	}
	if r.Arguments == nil {
		r.Arguments = []string{}
	}
	if out.Failed || meta.ExitCode != 0 {
		r.Result = "fail"
	}
	if meta.Err != nil {
		r.Error = meta.Err.Error()
	}

	for i, d := range snap.Devices {
		dev := Device{
			Index:      d.Index,
			Gflops:     d.Gflops,
			Processed:  d.Processed,
			Errors:     d.Errors,
			State:      d.State,
			NeverAlive: d.NeverReported,
			ExitCode:   d.ExitCode,
		}
		if d.TemperatureKnown {
			c := d.TemperatureC
			dev.TemperatureC = &c
		}
		if i < len(out.Devices) {
			diag := out.Devices[i]
			dev.Diagnosis = diag.String()
			dev.Verdict = diag.Verdict.String()
			dev.Reason = diag.Reason.String()
		}
		r.Devices[i] = dev
	}
	return r
}

// WriteSummary prints the end-of-run summary:
//
//	Tested 2 GPUs:
//	GPU 0: OK (Gflops/s: 19230.4, temps: 61C)
//	GPU 1: FAULTY (errors) (Gflops/s: 19101.2, temps: 63C)
//
// The parenthesised figures are only printed when verbose is set. Dead
// workers are flagged after the diagnosis.
func WriteSummary(w io.Writer, r Report, verbose bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\nTested %d GPUs:\n", len(r.Devices))
	for _, d := range r.Devices {
		fmt.Fprintf(&b, "GPU %d: %s", d.Index, d.Diagnosis)
		if verbose {
			temp := "N/A"
			if d.TemperatureC != nil {
				temp = fmt.Sprintf("%dC", *d.TemperatureC)
			}
			fmt.Fprintf(&b, " (Gflops/s: %.1f, temps: %s)", d.Gflops, temp)
		}
		switch {
		case d.NeverAlive:
			b.WriteString(" [worker never reported")
			writeExit(&b, d.ExitCode)
			b.WriteString("]")
		case d.State == types.StateDead:
			b.WriteString(" [worker died")
			writeExit(&b, d.ExitCode)
			b.WriteString("]")
		}
		b.WriteByte('\n')
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Run aborted: %s\n", r.Error)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeExit(b *strings.Builder, code *int) {
	if code != nil && *code > 0 {
		fmt.Fprintf(b, ", exit code %d", *code)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes r as JSON to path, replacing any previous report
// atomically.
func WriteFile(path string, r Report) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".gpuburn-report-*")
	if err != nil {
		return fmt.Errorf("report: create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := WriteJSON(f, r); err != nil {
		f.Close()
		return fmt.Errorf("report: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: close: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("report: chmod: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}
