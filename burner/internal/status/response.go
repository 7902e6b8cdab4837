package status

import (
	"time"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

// StatusResponse is the JSON body of GET /api/v1/status.
type StatusResponse struct {
	RunID       string      `json:"run_id"`
	Phase       types.Phase `json:"phase"`
	StartedAt   string      `json:"started_at,omitempty"`
	BudgetS     float64     `json:"budget_s"`
	ElapsedS    float64     `json:"elapsed_s"`
	ProgressPct float64     `json:"progress_pct"`
	DeviceCount int         `json:"device_count"`
	AliveCount  int         `json:"alive_count"`
	DeadCount   int         `json:"dead_count"`
	ErrorCount  int64       `json:"error_count"`
	UpdatedAt   string      `json:"updated_at,omitempty"`
}

// StreamResponse is the payload broadcast on /ws/stream.
type StreamResponse struct {
	Status  StatusResponse       `json:"status"`
	Devices []types.DeviceStatus `json:"devices"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toStatusResponse(snap types.Snapshot, updatedAt time.Time) StatusResponse {
	resp := StatusResponse{
		RunID:       snap.RunID,
		Phase:       snap.Phase,
		BudgetS:     snap.Budget.Seconds(),
		ElapsedS:    snap.Elapsed.Seconds(),
		ProgressPct: snap.ProgressPct,
		DeviceCount: len(snap.Devices),
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = snap.StartedAt.UTC().Format(time.RFC3339)
	}
	if !updatedAt.IsZero() {
		resp.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	}
	for _, d := range snap.Devices {
		if d.Alive() {
			resp.AliveCount++
		} else {
			resp.DeadCount++
		}
		resp.ErrorCount += d.Errors
	}
	return resp
}
