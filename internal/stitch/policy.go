// Package stitch decides how adjacent segments join: common format,
// overlap length, and splice offsets. Blending itself is deferred to
// render time.
package stitch

import (
	"time"

	"github.com/weldaudio/weld/internal/audio"
)

// Policy controls join planning for one pair of adjacent segments (or for
// a whole session when no per-join override is set).
type Policy struct {
	// Overlap is the requested crossfade length. Zero degenerates to
	// plain concatenation.
	Overlap time.Duration

	// Auto enables the low-energy splice search; when false the overlap
	// is anchored at the very end/start of the pair.
	Auto bool

	// SearchWindow bounds how far from the segment edges the automatic
	// search may move the splice point.
	SearchWindow time.Duration

	// EnergyTolerance is the relative band within which candidate splice
	// points count as equal; ties break toward the window center.
	EnergyTolerance float64

	Curve audio.Curve

	// Strict forbids resampling and remixing: segments whose formats
	// differ fail with ErrIncompatibleSegments instead of being
	// up-converted.
	Strict bool
}

// DefaultPolicy returns the documented defaults: 2s equal-power crossfade,
// automatic splice search over 5s windows with 5% energy tolerance.
func DefaultPolicy() Policy {
	return Policy{
		Overlap:         2 * time.Second,
		Auto:            true,
		SearchWindow:    5 * time.Second,
		EnergyTolerance: 0.05,
		Curve:           audio.CurveEqualPower,
	}
}
