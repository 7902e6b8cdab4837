package status

import (
	"fmt"
	"sort"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

// hotCelsius is the temperature from which a running device is flagged.
const hotCelsius = 85

// Hint is one human-readable insight about a device, shown next to its
// live figures.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional figure associated with the hint.
	Value *float64 `json:"value,omitempty"`
}

// DeviceResponse is the JSON body of GET /api/v1/devices/{index}.
type DeviceResponse struct {
	types.DeviceStatus
	Hints []Hint `json:"hints"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// deviceHints derives hints from one device's live state, critical first.
func deviceHints(d types.DeviceStatus) []Hint {
	var hints []Hint

	switch {
	case d.NeverReported:
		hints = append(hints, Hint{
			Key:   "never_reported",
			Level: "critical",
			Title: "Worker never reported",
			Detail: fmt.Sprintf("The worker for GPU %d exited before its first progress report%s. "+
				"This usually means device init failed: the memory selected with -m is not free, "+
				"or the driver refused the device. The device will be diagnosed FAULTY (zero Gflops/s).",
				d.Index, exitSuffix(d.ExitCode)),
		})
	case d.State == types.StateDead:
		hints = append(hints, Hint{
			Key:   "worker_died",
			Level: "critical",
			Title: "Worker died",
			Detail: fmt.Sprintf("The worker for GPU %d stopped reporting%s. Its throughput is frozen at "+
				"%.1f Gflops/s; the run continues on the other devices.", d.Index, exitSuffix(d.ExitCode), d.Gflops),
		})
	case d.State == types.StateStarting || d.State == types.StateRunning:
		hints = append(hints, Hint{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "The worker is running but has not reported a batch yet. The first batch is " +
				"discarded as warm-up, so figures show up after the second one.",
		})
	}

	if d.Errors > 0 {
		v := float64(d.Errors)
		hints = append(hints, Hint{
			Key:   "miscompute",
			Level: "critical",
			Title: fmt.Sprintf("%d faulty results", d.Errors),
			Detail: fmt.Sprintf("GPU %d produced %d result elements that differ from the reference product. "+
				"A device that miscomputes even once is diagnosed FAULTY.", d.Index, d.Errors),
			Value: &v,
		})
	}
	if d.WindowErrors > 0 {
		v := float64(d.WindowErrors)
		hints = append(hints, Hint{
			Key:    "errors_window",
			Level:  "warning",
			Title:  "Errors in this window",
			Detail: fmt.Sprintf("%d faulty elements were reported since the last 10%% progress mark.", d.WindowErrors),
			Value:  &v,
		})
	}

	if d.TemperatureKnown {
		if d.TemperatureC >= hotCelsius {
			v := float64(d.TemperatureC)
			hints = append(hints, Hint{
				Key:   "running_hot",
				Level: "warning",
				Title: fmt.Sprintf("%dC", d.TemperatureC),
				Detail: fmt.Sprintf("GPU %d is at %dC. Sustained temperatures at this level trigger clock "+
					"throttling, which shows up as low Gflops/s. Check airflow and fan curves.", d.Index, d.TemperatureC),
				Value: &v,
			})
		}
	} else if d.Alive() {
		hints = append(hints, Hint{
			Key:    "no_temperature",
			Level:  "info",
			Title:  "No temperature",
			Detail: "No temperature reading has been attributed to this device. Telemetry may be disabled or unavailable on this host.",
		})
	}

	if len(hints) == 0 {
		hints = append(hints, Hint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Healthy",
			Detail: fmt.Sprintf("GPU %d is reporting %.1f Gflops/s with no faulty results.", d.Index, d.Gflops),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool { return levelRank[hints[i].Level] < levelRank[hints[j].Level] })
	return hints
}

func exitSuffix(code *int) string {
	if code == nil {
		return ""
	}
	return fmt.Sprintf(" with exit code %d", *code)
}
