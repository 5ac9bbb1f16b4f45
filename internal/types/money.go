// README: Money rounding shared by pricing, lifecycle and history.
package types

import "math"

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
