package formulas

import "math"

// DrawdownMetrics holds drawdown statistics for a value series.
type DrawdownMetrics struct {
	MaxDrawdown     float64 // Worst peak-to-trough decline, as a negative fraction
	MaxDrawdownDate int     // Index of the trough of the worst drawdown
	CurrentDrawdown float64 // Drawdown at the end of the series
	PeakIndex       int     // Index of the peak preceding the worst trough
}

// MaxDrawdown calculates the maximum peak-to-trough decline of a value series
// in a single pass. The result is a negative fraction (e.g. -0.35 for a 35%
// decline) or 0 for a series that never declines.
func MaxDrawdown(values []float64) float64 {
	return Drawdown(values).MaxDrawdown
}

// Drawdown calculates full drawdown metrics for a value series using a
// running-peak scan.
func Drawdown(values []float64) DrawdownMetrics {
	if len(values) == 0 {
		return DrawdownMetrics{}
	}

	peak := values[0]
	peakIdx := 0
	maxDD := 0.0
	maxDDIdx := 0
	maxDDPeakIdx := 0

	for i, v := range values {
		if v > peak {
			peak = v
			peakIdx = i
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
			maxDDIdx = i
			maxDDPeakIdx = peakIdx
		}
	}

	current := 0.0
	if peak > 0 {
		current = (values[len(values)-1] - peak) / peak
	}

	return DrawdownMetrics{
		MaxDrawdown:     maxDD,
		MaxDrawdownDate: maxDDIdx,
		CurrentDrawdown: current,
		PeakIndex:       maxDDPeakIdx,
	}
}

// UlcerIndex calculates the Ulcer Index (root-mean-square of percentage
// drawdowns from the running peak). Lower is better.
func UlcerIndex(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	peak := values[0]
	sumSq := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak * 100
			sumSq += dd * dd
		}
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
