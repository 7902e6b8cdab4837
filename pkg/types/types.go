package types

import "time"

// Phase is the run lifecycle stage.
type Phase string

const (
	PhaseLaunching  Phase = "launching"
	PhaseMonitoring Phase = "monitoring"
	PhaseDraining   Phase = "draining"
	PhaseReported   Phase = "reported"
)

// Device liveness values carried in DeviceStatus.State.
const (
	StateStarting  = "starting"
	StateRunning   = "running"
	StateReporting = "reporting"
	StateDead      = "dead"
)

// DeviceStatus is the observable state of one device slot.
type DeviceStatus struct {
	Index     int     `json:"index"`
	State     string  `json:"state"`
	Processed int64   `json:"processed"`
	Errors    int64   `json:"errors"`
	// WindowErrors counts errors since the last 10% progress mark.
	WindowErrors int64   `json:"window_errors"`
	Gflops       float64 `json:"gflops"`

	TemperatureC     int  `json:"temperature_c"`
	TemperatureKnown bool `json:"temperature_known"`

	// NeverReported is true for a slot that died before its first frame.
	NeverReported bool `json:"never_reported,omitempty"`

	// Verdict and Reason are set once the run has been diagnosed.
	Verdict string `json:"verdict,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// ExitCode is the worker's exit status recorded at reap; -1 when it was
	// killed by a signal, nil until reaped.
	ExitCode *int `json:"exit_code,omitempty"`

	LastFrame time.Time `json:"last_frame,omitempty"`
}

// Alive reports whether the slot is still expected to send frames.
func (d DeviceStatus) Alive() bool { return d.State != StateDead }

// Snapshot is a consistent view of the whole run at one instant.
type Snapshot struct {
	RunID       string         `json:"run_id"`
	Phase       Phase          `json:"phase"`
	StartedAt   time.Time      `json:"started_at"`
	Budget      time.Duration  `json:"budget_ns"`
	Elapsed     time.Duration  `json:"elapsed_ns"`
	ProgressPct float64        `json:"progress_pct"`
	Devices     []DeviceStatus `json:"devices"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Clone returns a deep copy of s so it can be handed to another goroutine.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Devices = make([]DeviceStatus, len(s.Devices))
	copy(out.Devices, s.Devices)
	for i, d := range out.Devices {
		if d.ExitCode != nil {
			code := *d.ExitCode
			out.Devices[i].ExitCode = &code
		}
	}
	return out
}
