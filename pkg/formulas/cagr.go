package formulas

import "math"

// CAGR calculates the compound annual growth rate between a starting and
// ending value over a number of years.
//
// Returns 0 when inputs are degenerate (non-positive values or zero years).
func CAGR(startValue, endValue, years float64) float64 {
	if startValue <= 0 || endValue <= 0 || years <= 0 {
		return 0
	}
	return math.Pow(endValue/startValue, 1.0/years) - 1
}

// CAGRFromSeries calculates CAGR from a value series sampled at daily
// frequency, treating the series length as trading days.
func CAGRFromSeries(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	years := float64(len(values)-1) / TradingDaysPerYear
	return CAGR(values[0], values[len(values)-1], years)
}
