// Package status serves the live state of a burn run over HTTP.
//
// Routes:
//
//	GET /api/v1/status          run phase, progress and device counts
//	GET /api/v1/devices         every device slot
//	GET /api/v1/devices/{index} one device slot with hints
//	GET /api/v1/alerts          firing and resolved alerts
//	GET /metrics                Prometheus exposition
//	    /ws/stream              WebSocket, latest status every interval
//
// All routes sit behind the optional API key check (see APIKey).
package status
