//go:build !linux

package worker

import "errors"

// FreeMemory is only implemented on Linux.
func FreeMemory() (uint64, error) {
	return 0, errors.New("worker: free memory query not supported on this platform")
}
