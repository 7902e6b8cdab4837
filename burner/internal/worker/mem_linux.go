package worker

import "golang.org/x/sys/unix"

// FreeMemory returns the free host memory in bytes.
func FreeMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Freeram) * uint64(si.Unit), nil
}
