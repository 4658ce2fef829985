package audio

import (
	"errors"
	"fmt"
	"math"
)

// Errors raised by the blend engine.
var (
	ErrFormatMismatch = errors.New("audio: sample rate or channel count mismatch")
	ErrInvalidOverlap = errors.New("audio: invalid overlap")
	ErrValidation     = errors.New("audio: invalid parameter")
)

// Curve selects the crossfade weighting function.
type Curve int

const (
	// CurveEqualPower keeps perceived loudness constant across the
	// transition: w_left = cos(t·π/2), w_right = sin(t·π/2).
	CurveEqualPower Curve = iota
	// CurveLinear ramps both sides linearly.
	CurveLinear
	// CurveSmoothstep uses 3t²-2t³ for the incoming gain.
	CurveSmoothstep
)

func (c Curve) String() string {
	switch c {
	case CurveEqualPower:
		return "equal-power"
	case CurveLinear:
		return "linear"
	case CurveSmoothstep:
		return "smoothstep"
	}
	return fmt.Sprintf("curve(%d)", int(c))
}

// Valid reports whether c is a known curve selector.
func (c Curve) Valid() bool {
	return c >= CurveEqualPower && c <= CurveSmoothstep
}

// ParseCurve maps a config string to a Curve.
func ParseCurve(s string) (Curve, error) {
	switch s {
	case "", "equal-power":
		return CurveEqualPower, nil
	case "linear":
		return CurveLinear, nil
	case "smoothstep":
		return CurveSmoothstep, nil
	}
	return 0, fmt.Errorf("%w: unknown curve %q", ErrValidation, s)
}

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// weights returns the outgoing and incoming gains at progress t in [0,1).
func (c Curve) weights(t float64) (wl, wr float64) {
	switch c {
	case CurveLinear:
		return 1 - t, t
	case CurveSmoothstep:
		g := Smoothstep(t)
		return 1 - g, g
	default:
		return math.Cos(t * math.Pi / 2), math.Sin(t * math.Pi / 2)
	}
}

// Blend mixes the tail of left against the head of right over an overlap
// window. Offsets and overlap are in frames. Both clips must share one
// format; the caller resamples beforehand if they do not.
//
// The result holds exactly overlap frames. Output values are clamped to the
// int16 range; for the linear and smoothstep curves the blend itself never
// exceeds the louder input.
func Blend(left Clip, leftOff int, right Clip, rightOff int, overlap int, curve Curve) (Clip, error) {
	if left.Format != right.Format {
		return Clip{}, fmt.Errorf("%w: %v vs %v", ErrFormatMismatch, left.Format, right.Format)
	}
	if !curve.Valid() {
		return Clip{}, fmt.Errorf("%w: curve selector %d out of range", ErrValidation, int(curve))
	}
	if leftOff < 0 || rightOff < 0 {
		return Clip{}, fmt.Errorf("%w: negative offset", ErrValidation)
	}
	if overlap <= 0 {
		return Clip{}, fmt.Errorf("%w: overlap must be positive, got %d", ErrInvalidOverlap, overlap)
	}
	if leftOff+overlap > left.Frames() {
		return Clip{}, fmt.Errorf("%w: %d frames past left end (%d from offset %d)",
			ErrInvalidOverlap, overlap, left.Frames(), leftOff)
	}
	if rightOff+overlap > right.Frames() {
		return Clip{}, fmt.Errorf("%w: %d frames past right end (%d from offset %d)",
			ErrInvalidOverlap, overlap, right.Frames(), rightOff)
	}

	ch := left.Format.Channels
	out := make([]int16, overlap*ch)
	for i := 0; i < overlap; i++ {
		wl, wr := curve.weights(float64(i) / float64(overlap))
		for c := 0; c < ch; c++ {
			l := float64(left.Samples[(leftOff+i)*ch+c])
			r := float64(right.Samples[(rightOff+i)*ch+c])
			out[i*ch+c] = clampSample(l*wl + r*wr)
		}
	}
	return Clip{Format: left.Format, Samples: out}, nil
}
