// Package types defines the shared in-memory representation of a burn run:
// the per-device status and the run snapshot published by the supervisor and
// consumed by the status server, alert engine, metrics and reports.
package types
