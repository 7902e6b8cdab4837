// Package diagnosis turns the final per-device counters of a run into
// verdicts.
//
// Each device gets the first matching verdict, in order of severity:
//
//	FAULTY  (errors)         the worker reported at least one miscomputed element
//	FAULTY  (zero Gflop/s)   final throughput is exactly zero
//	WARNING (low Gflop/s)    throughput is below the low-throughput cut-off
//	OK
//
// The cut-off is either a fixed value (static mode) or Q1 - k*IQR over the
// devices that are neither error-faulty nor at zero throughput (dynamic mode).
// A run fails when any device is FAULTY; warnings do not fail it.
package diagnosis

import (
	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/stats"
)

// Verdict is the health classification of one device.
type Verdict int

const (
	OK Verdict = iota
	Warning
	Faulty
)

func (v Verdict) String() string {
	switch v {
	case Warning:
		return "WARNING"
	case Faulty:
		return "FAULTY"
	default:
		return "OK"
	}
}

// Reason explains a non-OK verdict.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonErrors
	ReasonZeroThroughput
	ReasonLowThroughput
)

func (r Reason) String() string {
	switch r {
	case ReasonErrors:
		return "errors"
	case ReasonZeroThroughput:
		return "zero Gflops/s"
	case ReasonLowThroughput:
		return "low Gflops/s"
	default:
		return ""
	}
}

// Input is what the aggregator needs to know about one device.
type Input struct {
	Index         int
	FaultyByError bool
	Gflops        float64
}

// Diagnosis is the verdict for one device.
type Diagnosis struct {
	Index   int
	Verdict Verdict
	Reason  Reason
	Gflops  float64
}

// String renders d as "FAULTY (errors)", "WARNING (low Gflops/s)" or "OK".
func (d Diagnosis) String() string {
	if d.Reason == ReasonNone {
		return d.Verdict.String()
	}
	return d.Verdict.String() + " (" + d.Reason.String() + ")"
}

// Outcome is the diagnosis of a whole run.
type Outcome struct {
	Devices []Diagnosis

	// LowerBound is the Gflop/s cut-off used for the low-throughput check.
	LowerBound float64

	// Failed is true when at least one device is FAULTY.
	Failed bool
}

// Counts returns the number of devices per verdict.
func (o Outcome) Counts() (ok, warning, faulty int) {
	for _, d := range o.Devices {
		switch d.Verdict {
		case OK:
			ok++
		case Warning:
			warning++
		case Faulty:
			faulty++
		}
	}
	return ok, warning, faulty
}

// Diagnose classifies every device in in, keeping its order.
func Diagnose(in []Input, t config.Threshold) Outcome {
	out := Outcome{
		Devices:    make([]Diagnosis, len(in)),
		LowerBound: LowerBound(in, t),
	}
	for i, d := range in {
		diag := Diagnosis{Index: d.Index, Gflops: d.Gflops}
		switch {
		case d.FaultyByError:
			diag.Verdict, diag.Reason = Faulty, ReasonErrors
		case d.Gflops == 0:
			diag.Verdict, diag.Reason = Faulty, ReasonZeroThroughput
		case d.Gflops < out.LowerBound:
			diag.Verdict, diag.Reason = Warning, ReasonLowThroughput
		}
		if diag.Verdict == Faulty {
			out.Failed = true
		}
		out.Devices[i] = diag
	}
	return out
}

// LowerBound returns the low-throughput cut-off for in under t.
func LowerBound(in []Input, t config.Threshold) float64 {
	if t.Mode == config.ThresholdStatic {
		return t.Value
	}
	eligible := make([]float64, 0, len(in))
	for _, d := range in {
		if d.FaultyByError || d.Gflops == 0 {
			continue
		}
		eligible = append(eligible, d.Gflops)
	}
	return stats.IQRLowerBound(eligible, t.Value)
}
