package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

func TestResult_Diagnose(t *testing.T) {
	slots := []Slot{
		{Index: 0, Device: 0, State: StateReporting, Gflops: 500},
		{Index: 1, Device: 1, State: StateDead, Gflops: 0},
		{Index: 2, Device: 2, State: StateReporting, Gflops: 50, FaultyByError: true, Errors: 2},
		{Index: 3, Device: 3, State: StateDead, Gflops: 80},
	}
	res := &Result{Slots: slots, Snapshot: types.Snapshot{Devices: make([]types.DeviceStatus, len(slots))}}
	for i := range slots {
		res.Snapshot.Devices[i] = slots[i].Status()
	}

	out := res.Diagnose(config.Threshold{Mode: config.ThresholdStatic, Value: 100})

	require.Len(t, out.Devices, 4)
	assert.True(t, out.Failed)
	assert.Equal(t, diagnosis.OK, out.Devices[0].Verdict)
	assert.Equal(t, diagnosis.ReasonZeroThroughput, out.Devices[1].Reason)
	assert.Equal(t, diagnosis.ReasonErrors, out.Devices[2].Reason, "errors take priority over low throughput")
	assert.Equal(t, diagnosis.Warning, out.Devices[3].Verdict, "a dead slot keeps its frozen throughput")

	assert.False(t, res.Slots[0].ZeroThroughput || res.Slots[0].LowThroughput)
	assert.True(t, res.Slots[1].ZeroThroughput)
	assert.True(t, res.Slots[1].LowThroughput)
	assert.True(t, res.Slots[2].LowThroughput)
	assert.True(t, res.Slots[3].LowThroughput)
	assert.False(t, res.Slots[3].ZeroThroughput)

	assert.Equal(t, "FAULTY", res.Snapshot.Devices[2].Verdict)
	assert.Equal(t, "errors", res.Snapshot.Devices[2].Reason)
	assert.Equal(t, "WARNING", res.Snapshot.Devices[3].Verdict)
}
