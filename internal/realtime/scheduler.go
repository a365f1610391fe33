package realtime

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Swapped for a manual clock in tests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
