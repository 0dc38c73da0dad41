// Package util provides common utility functions for price calculations.
package util

import "math"

// ExchangeTick is the minimum price increment for NSE option premiums.
const ExchangeTick = 0.05

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 101.27 becomes 101.25.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToExchangeTick rounds a premium or breakeven level to the exchange's
// minimum increment.
func RoundToExchangeTick(x float64) float64 {
	return RoundToTick(x, ExchangeTick)
}
