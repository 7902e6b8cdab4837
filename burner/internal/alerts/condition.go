package alerts

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

// evalCondition evaluates a rule condition against one device.
//
// Returns (fires, triggering value). An expression that cannot be parsed, an
// unknown field, or a temperature that is not known yet never fires.
func evalCondition(cond string, d types.DeviceStatus) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "state":
		return compareString(d.State, op, rhs), 0
	case "verdict":
		return compareString(d.Verdict, op, rhs), 0
	}

	v, ok := numericField(field, d)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value on the device.
func numericField(field string, d types.DeviceStatus) (float64, bool) {
	switch field {
	case "temperature":
		return float64(d.TemperatureC), d.TemperatureKnown
	case "gflops":
		// A device that has not reported has no throughput to judge.
		return d.Gflops, d.State == types.StateReporting || d.State == types.StateDead
	case "errors":
		return float64(d.Errors), true
	case "window_errors":
		return float64(d.WindowErrors), true
	case "processed":
		return float64(d.Processed), true
	default:
		return 0, false
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return strings.EqualFold(v, want)
	case "!=":
		return !strings.EqualFold(v, want)
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
