package alerts

import (
	"testing"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

func TestEvalCondition(t *testing.T) {
	hot := types.DeviceStatus{
		Index:            1,
		State:            types.StateReporting,
		Processed:        640,
		Errors:           3,
		WindowErrors:     2,
		Gflops:           950.5,
		TemperatureC:     91,
		TemperatureKnown: true,
		Verdict:          "FAULTY",
	}

	tests := []struct {
		cond      string
		dev       types.DeviceStatus
		wantFire  bool
		wantValue float64
	}{
		{"temperature > 85", hot, true, 91},
		{"temperature > 95", hot, false, 91},
		{"temperature > 0", types.DeviceStatus{State: types.StateRunning}, false, 0},
		{"gflops < 1000", hot, true, 950.5},
		{"gflops < 1000", types.DeviceStatus{State: types.StateRunning}, false, 0},
		{"errors > 0", hot, true, 3},
		{"window_errors >= 2", hot, true, 2},
		{"processed == 0", hot, false, 640},
		{"state == dead", types.DeviceStatus{State: types.StateDead}, true, 0},
		{"state == dead", hot, false, 0},
		{"state != dead", hot, true, 0},
		{"verdict == faulty", hot, true, 0},
		{"power > 100", hot, false, 0},
		{"errors >", hot, false, 0},
		{"errors > many", hot, false, 0},
		{"errors ~ 1", hot, false, 0},
	}
	for _, tt := range tests {
		fire, v := evalCondition(tt.cond, tt.dev)
		if fire != tt.wantFire {
			t.Errorf("evalCondition(%q) fires = %v, want %v", tt.cond, fire, tt.wantFire)
		}
		if fire && v != tt.wantValue {
			t.Errorf("evalCondition(%q) value = %v, want %v", tt.cond, v, tt.wantValue)
		}
	}
}
