package domain

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze record timestamps
// via SetClock.
var (
	clockMu sync.RWMutex
	clock   = clockwork.NewRealClock()
)

// SetClock swaps the time source for record timestamps. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	clockMu.Lock()
	defer clockMu.Unlock()
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns the current package time source.
func Clock() clockwork.Clock {
	clockMu.RLock()
	defer clockMu.RUnlock()
	return clock
}

// Now returns the current time in UTC from the package time source.
func Now() time.Time {
	return Clock().Now().UTC()
}
