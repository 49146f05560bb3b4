package queue

import "time"

// Clock abstracts time so backoff, guard windows, and recovery cutoffs can be
// tested deterministically. Production code uses SystemClock; tests inject a
// fake and advance it manually.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns a Clock backed by the real time package.
func SystemClock() Clock { return systemClock{} }
