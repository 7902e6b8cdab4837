package supervisor

import (
	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
)

// Diagnose classifies every slot of r under t. It sets the end-of-run
// throughput flags of r.Slots and writes verdicts into r.Snapshot.
func (r *Result) Diagnose(t config.Threshold) diagnosis.Outcome {
	in := make([]diagnosis.Input, len(r.Slots))
	for i, s := range r.Slots {
		in[i] = diagnosis.Input{
			Index:         s.Device,
			FaultyByError: s.FaultyByError,
			Gflops:        s.Gflops,
		}
	}

	out := diagnosis.Diagnose(in, t)
	for i, d := range out.Devices {
		s := &r.Slots[i]
		s.ZeroThroughput = s.Gflops == 0
		s.LowThroughput = s.Gflops < out.LowerBound

		if i < len(r.Snapshot.Devices) {
			r.Snapshot.Devices[i].Verdict = d.Verdict.String()
			r.Snapshot.Devices[i].Reason = d.Reason.String()
		}
	}
	return out
}
