package diagnosis

import (
	"testing"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
)

var dynamic = config.Threshold{Mode: config.ThresholdDynamic, Value: 1.5}

func TestDiagnose_Priority(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want string
	}{
		{"errors beat zero throughput", Input{FaultyByError: true, Gflops: 0}, "FAULTY (errors)"},
		{"errors beat low throughput", Input{FaultyByError: true, Gflops: 1}, "FAULTY (errors)"},
		{"zero throughput", Input{Gflops: 0}, "FAULTY (zero Gflops/s)"},
		{"low throughput", Input{Gflops: 500}, "WARNING (low Gflops/s)"},
		{"healthy", Input{Gflops: 20000}, "OK"},
	}
	static := config.Threshold{Mode: config.ThresholdStatic, Value: 1000}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Diagnose([]Input{tc.in}, static)
			if got := out.Devices[0].String(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDiagnose_DynamicFlagsSlowPeer(t *testing.T) {
	in := []Input{
		{Index: 0, Gflops: 19000},
		{Index: 1, Gflops: 19100},
		{Index: 2, Gflops: 18900},
		{Index: 3, Gflops: 19050},
		{Index: 4, Gflops: 9000},
		{Index: 5, Gflops: 18950},
		{Index: 6, Gflops: 19150},
		{Index: 7, Gflops: 19000},
		{Index: 8, FaultyByError: true, Gflops: 1},
		{Index: 9, Gflops: 0},
	}
	out := Diagnose(in, dynamic)

	// Eligible: Q1 = 18925, Q3 = 19075, cut-off = 18925 - 1.5*150 = 18700.
	if out.LowerBound != 18700 {
		t.Errorf("LowerBound = %v, want 18700", out.LowerBound)
	}
	want := []string{"OK", "OK", "OK", "OK", "WARNING (low Gflops/s)", "OK", "OK", "OK", "FAULTY (errors)", "FAULTY (zero Gflops/s)"}
	for i, w := range want {
		if got := out.Devices[i].String(); got != w {
			t.Errorf("device %d: got %q, want %q", i, got, w)
		}
		if out.Devices[i].Index != i {
			t.Errorf("device %d: index %d", i, out.Devices[i].Index)
		}
	}
	if !out.Failed {
		t.Error("run with FAULTY devices should fail")
	}
	ok, warn, faulty := out.Counts()
	if ok != 7 || warn != 1 || faulty != 2 {
		t.Errorf("Counts() = %d, %d, %d", ok, warn, faulty)
	}
}

func TestDiagnose_WarningsDoNotFail(t *testing.T) {
	out := Diagnose([]Input{{Gflops: 10}, {Gflops: 20000}}, config.Threshold{Mode: config.ThresholdStatic, Value: 100})
	if out.Failed {
		t.Error("warnings alone should not fail the run")
	}
	if out.Devices[0].Verdict != Warning {
		t.Errorf("device 0 verdict = %v", out.Devices[0].Verdict)
	}
}

func TestLowerBound(t *testing.T) {
	cases := []struct {
		name string
		in   []Input
		t    config.Threshold
		want float64
	}{
		{"static", []Input{{Gflops: 5}}, config.Threshold{Mode: config.ThresholdStatic, Value: 42}, 42},
		{"no eligible devices", []Input{{Gflops: 0}, {FaultyByError: true, Gflops: 9}}, dynamic, 0},
		{"single eligible", []Input{{Gflops: 7}, {Gflops: 0}}, dynamic, 7},
		{"two eligible", []Input{{Gflops: 7}, {Gflops: 3}}, dynamic, 3},
		{
			"iqr",
			[]Input{{Gflops: 1}, {Gflops: 2}, {Gflops: 3}, {Gflops: 4}, {Gflops: 5}, {Gflops: 6}, {Gflops: 7}, {Gflops: 8}},
			dynamic,
			-3.5,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LowerBound(tc.in, tc.t); got != tc.want {
				t.Errorf("LowerBound = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiagnose_Empty(t *testing.T) {
	out := Diagnose(nil, dynamic)
	if out.Failed || len(out.Devices) != 0 {
		t.Errorf("empty run: %+v", out)
	}
}
