package clock

import (
	"testing"
	"time"
)

var _ Clock = Real()
var _ Clock = NewMock(time.Time{})

func TestMockStartsAtGivenTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("unexpected start %v", c.Now())
	}
	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	stopped := c.AfterFunc(2*time.Second, func() { fired = append(fired, "stopped") })
	if !stopped.Stop() {
		t.Fatalf("stop should report an armed timer")
	}

	c.Add(500 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("fired too early: %v", fired)
	}
	c.Add(5 * time.Second)
	if len(fired) != 2 || fired[0] != "early" || fired[1] != "late" {
		t.Fatalf("unexpected order: %v", fired)
	}
}
