package math

import (
	stdmath "math"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// DivideRoundUp is used to size compute dispatches from a resolution.
func DivideRoundUp[T constraints.Integer](n, d T) T {
	return (n + d - 1) / d
}

func DegToRad(degrees float32) float32 {
	return degrees * K_DEG2RAD_MULTIPLIER
}

func RadToDeg(radians float32) float32 {
	return radians * K_RAD2DEG_MULTIPLIER
}

func ksin(x float32) float32 {
	return float32(stdmath.Sin(float64(x)))
}

func kcos(x float32) float32 {
	return float32(stdmath.Cos(float64(x)))
}
