package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/obsidianstack/gpuburn/burner/internal/alerts"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

// AlertSource supplies the alerts listed by GET /api/v1/alerts.
type AlertSource interface {
	Active() []alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *Store
	alerts AlertSource
	mux    *http.ServeMux
}

// NewHandler creates a Handler reading from st. src may be nil.
func NewHandler(st *Store, src AlertSource) http.Handler {
	h := &Handler{store: st, alerts: src, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/devices/", h.getDevice) // subtree, extracts {index}
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, at, ok := h.store.Latest()
	if !ok {
		jsonResp(w, http.StatusOK, StatusResponse{Phase: types.PhaseLaunching})
		return
	}
	jsonResp(w, http.StatusOK, toStatusResponse(snap, at))
}

// listDevices returns GET /api/v1/devices.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, _, _ := h.store.Latest()
	devices := snap.Devices
	if devices == nil {
		devices = []types.DeviceStatus{}
	}
	jsonResp(w, http.StatusOK, devices)
}

// getDevice returns GET /api/v1/devices/{index} with the device's hints.
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if raw == "" {
		h.listDevices(w, r)
		return
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "device index must be an integer")
		return
	}

	snap, _, _ := h.store.Latest()
	for _, d := range snap.Devices {
		if d.Index == idx {
			jsonResp(w, http.StatusOK, DeviceResponse{DeviceStatus: d, Hints: deviceHints(d)})
			return
		}
	}
	jsonErr(w, http.StatusNotFound, "device not found")
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []alerts.Alert{})
		return
	}
	out := h.alerts.Active()
	if out == nil {
		out = []alerts.Alert{}
	}
	jsonResp(w, http.StatusOK, out)
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
