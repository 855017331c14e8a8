// Package clock provides an injectable time source so services can be
// tested against a fixed or advancing clock.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source used by services instead of time.Now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// Module provides the wall clock to the fx graph.
var Module = fx.Module("clock",
	fx.Provide(System),
)
