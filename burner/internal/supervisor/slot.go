package supervisor

import (
	"time"

	"github.com/obsidianstack/gpuburn/burner/internal/protocol"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

// State is the liveness of one slot.
type State int

const (
	// StateStarting: the worker is being spawned.
	StateStarting State = iota
	// StateRunning: the worker is up but has not reported yet.
	StateRunning
	// StateReporting: at least one progress frame has arrived.
	StateReporting
	// StateDead: death frame, short read, or broken channel. Terminal.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return types.StateStarting
	case StateRunning:
		return types.StateRunning
	case StateReporting:
		return types.StateReporting
	default:
		return types.StateDead
	}
}

// Slot is the supervisor's bookkeeping for one device.
type Slot struct {
	Index  int
	Device int
	State  State

	Processed    int64
	Errors       int64
	WindowErrors int64
	Gflops       float64

	Temperature      int
	TemperatureKnown bool

	// FaultyByError is sticky once any error has been reported.
	FaultyByError bool

	// ZeroThroughput and LowThroughput are set by Result.Diagnose from the
	// final throughput.
	ZeroThroughput bool
	LowThroughput  bool

	EverReported bool
	LastFrame    time.Time

	// ExitCode is recorded at reap; nil before.
	ExitCode *int

	worker Worker
}

func newSlot(index, device int, now time.Time) *Slot {
	return &Slot{
		Index:     index,
		Device:    device,
		State:     StateStarting,
		LastFrame: now,
	}
}

// Apply folds one frame into the slot. It returns true when the frame moved
// the slot to Dead. Frames for a dead slot are ignored.
//
// Throughput is the frame's iterations times opsPerIteration over the time
// since the previous frame, in Gflop/s. A frame arriving in the same instant
// as the previous one leaves the throughput unchanged.
func (s *Slot) Apply(f protocol.Frame, now time.Time, opsPerIteration float64) (died bool) {
	if s.State == StateDead {
		return false
	}
	if f.Dead() {
		s.State = StateDead
		return true
	}

	s.Errors += int64(f.Errors)
	s.WindowErrors += int64(f.Errors)
	if s.Errors > 0 {
		s.FaultyByError = true
	}

	if elapsed := now.Sub(s.LastFrame).Seconds(); elapsed > 0 {
		s.Gflops = float64(f.Processed) * opsPerIteration / elapsed / 1e9
	}
	s.LastFrame = now
	s.Processed += int64(f.Processed)
	s.State = StateReporting
	s.EverReported = true
	return false
}

// Status returns the slot as a shared DeviceStatus.
func (s *Slot) Status() types.DeviceStatus {
	d := types.DeviceStatus{
		Index:            s.Device,
		State:            s.State.String(),
		Processed:        s.Processed,
		Errors:           s.Errors,
		WindowErrors:     s.WindowErrors,
		Gflops:           s.Gflops,
		TemperatureC:     s.Temperature,
		TemperatureKnown: s.TemperatureKnown,
		NeverReported:    s.State == StateDead && !s.EverReported,
		LastFrame:        s.LastFrame,
	}
	if s.ExitCode != nil {
		code := *s.ExitCode
		d.ExitCode = &code
	}
	return d
}
