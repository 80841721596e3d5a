package domain

import "math"

// Round2 rounds a monetary amount to two decimal places. Internal arithmetic
// keeps full precision; only output boundaries round.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// MinorUnits converts a decimal amount to integer minor units for payment
// provider APIs.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// ApproxEqual reports whether two amounts agree within the bookkeeping
// tolerance of 0.01.
func ApproxEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}
