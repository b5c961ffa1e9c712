// Package interval turns a per-frame callback into one that fires at a fixed period of simulated time.
//
//	spawn := interval.Every(15).Seconds().Wrap(spawnWave)
//	// in OnPhysicsFrame:
//	spawn(delta)
package interval

import "time"

// Builder picks the unit of the period passed to Every.
type Builder struct {
	n int64
}

// Every starts a period of n units.
func Every(n int64) Builder {
	return Builder{n: n}
}

func (b Builder) Milliseconds() Period {
	return Period(time.Duration(b.n) * time.Millisecond)
}

func (b Builder) Seconds() Period {
	return Period(time.Duration(b.n) * time.Second)
}

func (b Builder) Minutes() Period {
	return Period(time.Duration(b.n) * time.Minute)
}

// Period is a length of simulated time.
type Period time.Duration

// Wrap returns a function that accumulates the deltas it is given and calls fn once for every whole
// period accumulated. Leftover time carries over to the next call. A non-positive period never fires.
func (p Period) Wrap(fn func()) func(delta time.Duration) {
	var acc time.Duration
	period := time.Duration(p)
	return func(delta time.Duration) {
		if period <= 0 {
			return
		}
		acc += delta
		for acc >= period {
			acc -= period
			fn()
		}
	}
}
