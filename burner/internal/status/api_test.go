package status_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/obsidianstack/gpuburn/burner/internal/alerts"
	"github.com/obsidianstack/gpuburn/burner/internal/status"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

// --- test helpers -----------------------------------------------------------

func runSnapshot() types.Snapshot {
	return types.Snapshot{
		RunID:       "run-42",
		Phase:       types.PhaseMonitoring,
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Budget:      100 * time.Second,
		Elapsed:     25 * time.Second,
		ProgressPct: 25,
		Devices: []types.DeviceStatus{
			{Index: 0, State: types.StateReporting, Processed: 120, Gflops: 15000},
			{Index: 1, State: types.StateReporting, Processed: 118, Errors: 4, Gflops: 14900},
			{Index: 2, State: types.StateDead, NeverReported: true},
		},
	}
}

func newStore(snaps ...types.Snapshot) *status.Store {
	st := status.NewStore()
	for _, s := range snaps {
		st.Put(s)
	}
	return st
}

type fixedAlerts []alerts.Alert

func (f fixedAlerts) Active() []alerts.Alert { return f }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests ------------------------------------------------------------------

func TestStatus_Empty(t *testing.T) {
	h := status.NewHandler(newStore(), nil)
	rr := get(t, h, "/api/v1/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp status.StatusResponse
	decode(t, rr, &resp)
	if resp.Phase != types.PhaseLaunching {
		t.Errorf("phase: got %q, want launching", resp.Phase)
	}
	if resp.DeviceCount != 0 {
		t.Errorf("device_count: got %d, want 0", resp.DeviceCount)
	}
}

func TestStatus_Counts(t *testing.T) {
	h := status.NewHandler(newStore(runSnapshot()), nil)
	var resp status.StatusResponse
	decode(t, get(t, h, "/api/v1/status"), &resp)

	if resp.RunID != "run-42" {
		t.Errorf("run_id: got %q", resp.RunID)
	}
	if resp.ProgressPct != 25 || resp.BudgetS != 100 || resp.ElapsedS != 25 {
		t.Errorf("progress: got %+v", resp)
	}
	if resp.DeviceCount != 3 || resp.AliveCount != 2 || resp.DeadCount != 1 {
		t.Errorf("counts: got %d/%d/%d, want 3/2/1", resp.DeviceCount, resp.AliveCount, resp.DeadCount)
	}
	if resp.ErrorCount != 4 {
		t.Errorf("error_count: got %d, want 4", resp.ErrorCount)
	}
	if resp.StartedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("started_at: got %q", resp.StartedAt)
	}
	if resp.UpdatedAt == "" {
		t.Error("updated_at: missing")
	}
}

func TestDevices_List(t *testing.T) {
	h := status.NewHandler(newStore(runSnapshot()), nil)
	var devices []types.DeviceStatus
	decode(t, get(t, h, "/api/v1/devices"), &devices)
	if len(devices) != 3 {
		t.Fatalf("devices: got %d, want 3", len(devices))
	}
	if !devices[2].NeverReported || devices[2].State != types.StateDead {
		t.Errorf("device 2: got %+v", devices[2])
	}
}

func TestDevices_EmptyStoreIsEmptyArray(t *testing.T) {
	h := status.NewHandler(newStore(), nil)
	rr := get(t, h, "/api/v1/devices")
	if got := rr.Body.String(); got != "[]\n" {
		t.Errorf("body: got %q, want []", got)
	}
}

func TestDevices_Get(t *testing.T) {
	h := status.NewHandler(newStore(runSnapshot()), nil)

	var d types.DeviceStatus
	rr := get(t, h, "/api/v1/devices/1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	decode(t, rr, &d)
	if d.Index != 1 || d.Errors != 4 {
		t.Errorf("device: got %+v", d)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/devices/7", http.StatusNotFound},
		{"/api/v1/devices/gpu0", http.StatusBadRequest},
		{"/api/v1/devices/", http.StatusOK},
	}
	for _, tt := range tests {
		if rr := get(t, h, tt.path); rr.Code != tt.code {
			t.Errorf("GET %s: got %d, want %d", tt.path, rr.Code, tt.code)
		}
	}
}

func TestAlerts(t *testing.T) {
	src := fixedAlerts{{ID: "a1", RuleName: "hot", Device: 1, State: alerts.StateFiring}}
	h := status.NewHandler(newStore(), src)

	var got []alerts.Alert
	decode(t, get(t, h, "/api/v1/alerts"), &got)
	if len(got) != 1 || got[0].RuleName != "hot" {
		t.Errorf("alerts: got %+v", got)
	}

	rr := get(t, status.NewHandler(newStore(), nil), "/api/v1/alerts")
	if rr.Body.String() != "[]\n" {
		t.Errorf("no source: got %q, want []", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := status.NewHandler(newStore(runSnapshot()), nil)
	for _, path := range []string{"/api/v1/status", "/api/v1/devices", "/api/v1/devices/0", "/api/v1/alerts"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}

func TestStore_PutCopies(t *testing.T) {
	snap := runSnapshot()
	st := newStore(snap)
	snap.Devices[0].Errors = 99

	got, _, ok := st.Latest()
	if !ok {
		t.Fatal("Latest: no snapshot")
	}
	if got.Devices[0].Errors != 0 {
		t.Errorf("stored snapshot aliased the caller's devices")
	}
}
