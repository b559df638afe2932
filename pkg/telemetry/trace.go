package telemetry

import (
	"time"

	"chatsync/pkg/logger"
)

// SlowThreshold is the total duration above which a finished trace is logged.
var SlowThreshold = 250 * time.Millisecond

type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

type Trace struct {
	Name     string
	Start    time.Time
	Steps    []Step
	lastMark time.Time
	done     bool
}

// Track starts a trace for op.
func Track(name string) *Trace {
	now := time.Now()
	return &Trace{Name: name, Start: now, lastMark: now}
}

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	now := time.Now()
	d := now.Sub(tr.lastMark)
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: d.Seconds() * 1000})
	StepSeconds.WithLabelValues(tr.Name, label).Observe(d.Seconds())
	tr.lastMark = now
}

// Finish records the total. Safe to call multiple times or via defer.
func (tr *Trace) Finish() {
	if tr.done {
		return
	}
	tr.done = true
	total := time.Since(tr.Start)
	StepSeconds.WithLabelValues(tr.Name, "total").Observe(total.Seconds())
	if total > SlowThreshold {
		logger.Warn("slow_operation", "op", tr.Name, "total_ms", total.Milliseconds(), "steps", tr.Steps)
	}
}
