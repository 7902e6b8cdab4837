// Package device enumerates the devices a burn run can target.
package device

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/obsidianstack/gpuburn/burner/internal/worker"
)

// QueryCommand lists NVIDIA devices one CSV record per line.
var QueryCommand = []string{
	"nvidia-smi",
	"--query-gpu=index,name,memory.total",
	"--format=csv,noheader,nounits",
}

// Device describes one burnable device.
type Device struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	MemoryMB int64  `json:"memory_mb"`
}

// String renders d the way `gpu-burn -l` prints it.
func (d Device) String() string {
	return fmt.Sprintf("ID %d: %s, %dMB", d.Index, d.Name, d.MemoryMB)
}

// List returns the devices of backend. cpuDevices is the number of virtual
// devices the cpu backend exposes.
func List(ctx context.Context, backend string, cpuDevices int) ([]Device, error) {
	switch backend {
	case "nvidia":
		return ListCommand(ctx, QueryCommand)
	case "cpu":
		return ListCPU(cpuDevices), nil
	default:
		return nil, fmt.Errorf("device: unknown backend %q", backend)
	}
}

// ListCommand runs argv and parses its CSV output.
func ListCommand(ctx context.Context, argv []string) ([]Device, error) {
	if len(argv) == 0 {
		return nil, errors.New("device: empty query command")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("device: %s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return ParseCSV(bytes.NewReader(out))
}

// ParseCSV decodes "index, name, memory_mb" records. Memory may be "[N/A]".
func ParseCSV(r io.Reader) ([]Device, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = 3

	var devices []Device
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return devices, nil
		}
		if err != nil {
			return nil, fmt.Errorf("device: parse query output: %w", err)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("device: bad index %q", rec[0])
		}
		mem, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil {
			mem = 0
		}
		devices = append(devices, Device{
			Index:    idx,
			Name:     strings.TrimSpace(rec[1]),
			MemoryMB: mem,
		})
	}
}

// ListCPU returns n virtual cpu devices sharing the host's free memory.
func ListCPU(n int) []Device {
	var perDevice int64
	if free, err := worker.FreeMemory(); err == nil && n > 0 {
		perDevice = int64(free/uint64(n)) / (1024 * 1024)
	}
	name := fmt.Sprintf("%s/%s cpu (%d threads)", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	devices := make([]Device, 0, n)
	for i := 0; i < n; i++ {
		devices = append(devices, Device{Index: i, Name: name, MemoryMB: perDevice})
	}
	return devices
}
