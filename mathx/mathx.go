// Package mathx provides small numeric helpers shared by the metadata and laser code.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.  Units below one are applied as a division by
// their reciprocal, so Round(549.96, 0.1) is exactly 550.
func Round(x, unit float64) float64 {
	if unit == 0 {
		return x
	}
	if unit < 1 {
		inv := math.Round(1 / unit)
		return math.Round(x*inv) / inv
	}
	return math.Round(x/unit) * unit
}
