package telemetry

// Tracker holds the latest temperature of every device slot. It is not safe
// for concurrent use; the supervisor owns it.
type Tracker struct {
	celsius []int
	known   []bool
	cursor  int
}

// NewTracker returns a Tracker for n device slots.
func NewTracker(n int) *Tracker {
	return &Tracker{
		celsius: make([]int, n),
		known:   make([]bool, n),
	}
}

// Apply records r and returns the slot it was attributed to. ok reports
// whether a temperature was stored: N/A readings advance the cursor without
// storing, reset readings only rewind it.
func (t *Tracker) Apply(r Reading) (index int, ok bool) {
	n := len(t.celsius)
	if n == 0 {
		return -1, false
	}

	if r.Kind == KindReset {
		t.cursor = 0
		return -1, false
	}

	if r.Device != Unlabelled {
		if r.Device < 0 || r.Device >= n || r.Kind != KindTemperature {
			return -1, false
		}
		t.celsius[r.Device] = r.Celsius
		t.known[r.Device] = true
		return r.Device, true
	}

	index = t.cursor
	t.cursor = (t.cursor + 1) % n
	if r.Kind != KindTemperature {
		return index, false
	}
	t.celsius[index] = r.Celsius
	t.known[index] = true
	return index, true
}

// Temperature returns the latest temperature of slot i. ok is false while no
// value has been seen.
func (t *Tracker) Temperature(i int) (celsius int, ok bool) {
	if i < 0 || i >= len(t.celsius) {
		return 0, false
	}
	return t.celsius[i], t.known[i]
}
