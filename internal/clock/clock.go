// Package clock abstracts time for schedulers, caches and tests.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock returns the current time. Production code uses the system clock;
// tests substitute a FakeClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
