package telemetry

import "testing"

func temp(c int) Reading { return Reading{Kind: KindTemperature, Celsius: c, Device: Unlabelled} }

func TestTracker_RoundRobinWraps(t *testing.T) {
	tr := NewTracker(3)
	for i, want := range []int{0, 1, 2, 0, 1, 2, 0} {
		idx, ok := tr.Apply(temp(40 + i))
		if !ok || idx != want {
			t.Fatalf("reading %d: Apply = %d, %v; want %d, true", i, idx, ok, want)
		}
	}
	if c, _ := tr.Temperature(0); c != 46 {
		t.Errorf("slot 0 = %d, want 46", c)
	}
}

func TestTracker_NotApplicableAdvances(t *testing.T) {
	tr := NewTracker(2)
	idx, ok := tr.Apply(Reading{Kind: KindNotApplicable, Device: Unlabelled})
	if ok || idx != 0 {
		t.Fatalf("N/A: Apply = %d, %v; want 0, false", idx, ok)
	}
	if idx, _ := tr.Apply(temp(70)); idx != 1 {
		t.Fatalf("after N/A: attributed to %d, want 1", idx)
	}
	if _, ok := tr.Temperature(0); ok {
		t.Error("slot 0 should stay unknown")
	}
}

func TestTracker_ResetRewinds(t *testing.T) {
	tr := NewTracker(3)
	tr.Apply(temp(50))
	tr.Apply(temp(51))
	tr.Apply(Reading{Kind: KindReset, Device: Unlabelled})
	if idx, _ := tr.Apply(temp(52)); idx != 0 {
		t.Fatalf("after reset: attributed to %d, want 0", idx)
	}
}

func TestTracker_Labelled(t *testing.T) {
	tr := NewTracker(4)
	idx, ok := tr.Apply(Reading{Kind: KindTemperature, Celsius: 77, Device: 3})
	if !ok || idx != 3 {
		t.Fatalf("labelled: Apply = %d, %v", idx, ok)
	}
	// Labelled readings leave the cursor alone.
	if idx, _ := tr.Apply(temp(30)); idx != 0 {
		t.Errorf("cursor moved: next unlabelled went to %d", idx)
	}
	if _, ok := tr.Apply(Reading{Kind: KindTemperature, Celsius: 1, Device: 9}); ok {
		t.Error("out-of-range device accepted")
	}
}

func TestTracker_Empty(t *testing.T) {
	tr := NewTracker(0)
	if idx, ok := tr.Apply(temp(1)); ok || idx != -1 {
		t.Errorf("empty tracker: Apply = %d, %v", idx, ok)
	}
	if _, ok := tr.Temperature(0); ok {
		t.Error("empty tracker reported a temperature")
	}
}
