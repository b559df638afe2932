// Package clock is the time seam used by TTL and grace-period logic. Real
// and mock clocks come from github.com/andres-erbsen/clock.
package clock

import (
	"time"

	aclock "github.com/andres-erbsen/clock"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) *Timer
}

type (
	Timer = aclock.Timer
	Mock  = aclock.Mock
)

// Real returns the wall clock.
func Real() Clock { return aclock.New() }

// NewMock returns a mock clock reading start. Mock.Add runs due AfterFunc
// callbacks on the calling goroutine in deadline order.
func NewMock(start time.Time) *Mock {
	m := aclock.NewMock()
	m.Set(start)
	return m
}
