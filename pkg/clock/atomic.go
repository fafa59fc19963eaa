package clock

import (
	"sync/atomic"
	"time"
)

// MillisClock hands out strictly increasing millisecond stamps.
// A stamp is the wall clock in ms unless that would not be greater than the
// previous one, in which case previous+1 is used.
type MillisClock struct {
	last atomic.Int64
	now  func() time.Time
}

func NewMillis(init int64) *MillisClock {
	mc := MillisClock{now: time.Now}
	mc.Set(init)
	return &mc
}

// Val returns the last stamp handed out (or the seed).
func (mc *MillisClock) Val() int64 {
	return mc.last.Load()
}

func (mc *MillisClock) Next() int64 {
	for {
		prev := mc.last.Load()
		next := mc.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if mc.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Set raises the floor; it never moves the clock backwards.
func (mc *MillisClock) Set(t int64) {
	for {
		prev := mc.last.Load()
		if t <= prev {
			return
		}
		if mc.last.CompareAndSwap(prev, t) {
			return
		}
	}
}
