package telemetry

import (
	"regexp"
	"strconv"
)

// Kind classifies a Reading.
type Kind uint8

const (
	// KindTemperature carries a value in Celsius.
	KindTemperature Kind = iota
	// KindNotApplicable marks a device that reported no temperature.
	KindNotApplicable
	// KindReset marks the start of a fresh output stream; the round-robin
	// cursor returns to device 0.
	KindReset
)

// Unlabelled is the Device value of readings attributed round-robin.
const Unlabelled = -1

// Reading is one temperature observation.
type Reading struct {
	Kind    Kind
	Celsius int
	// Device is the device index, or Unlabelled.
	Device int
}

var (
	tempLine = regexp.MustCompile(`^\s*GPU Current Temp\s*:\s*(-?\d+)\s*C\s*$`)
	naLine   = regexp.MustCompile(`^\s*Gpu\s*:\s*N/A\s*$`)
)

// ParseLine classifies one line of tool output. ok is false for lines that
// carry neither a temperature nor an N/A marker.
func ParseLine(line string) (r Reading, ok bool) {
	if m := tempLine.FindStringSubmatch(line); m != nil {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return Reading{}, false
		}
		return Reading{Kind: KindTemperature, Celsius: v, Device: Unlabelled}, true
	}
	if naLine.MatchString(line) {
		return Reading{Kind: KindNotApplicable, Device: Unlabelled}, true
	}
	return Reading{}, false
}
