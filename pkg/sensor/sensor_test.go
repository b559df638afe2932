package sensor

import (
	"testing"
)

func TestHysteresis(t *testing.T) {
	s := NewSensor(MonitorConfig{Path: "/", DiskHighPct: 90, DiskLowPct: 80})
	var pct float64
	s.usage = func(string) (float64, error) { return pct, nil }

	steps := []struct {
		pct     float64
		healthy bool
	}{
		{50, true},
		{91, false},
		{85, false}, // between marks keeps the alert
		{79, true},
		{85, true},
	}
	for i, st := range steps {
		pct = st.pct
		s.Check()
		if s.Healthy() != st.healthy {
			t.Fatalf("step %d (%.0f%%): healthy=%v", i, st.pct, s.Healthy())
		}
	}
	if s.LastUsedPercent() != 85 {
		t.Fatalf("last pct = %v", s.LastUsedPercent())
	}
}

func TestDiskUsedPercent(t *testing.T) {
	pct, err := DiskUsedPercent(t.TempDir())
	if err != nil {
		t.Fatalf("statfs: %v", err)
	}
	if pct < 0 || pct > 100 {
		t.Fatalf("pct out of range: %v", pct)
	}
}
