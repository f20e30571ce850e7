package formulas

import "github.com/markcheno/go-talib"

// EMA calculates the exponential moving average of a series with the given
// period. Returns nil when the series is shorter than the period.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return talib.Ema(values, period)
}

// EMATrend compares short and long EMAs at the end of a price series and
// returns +1 (short above long), -1 (short below long) or 0 (flat or not
// enough data). Used as a coarse momentum diagnostic.
func EMATrend(prices []float64, shortPeriod, longPeriod int) int {
	if longPeriod <= shortPeriod {
		return 0
	}
	short := EMA(prices, shortPeriod)
	long := EMA(prices, longPeriod)
	if short == nil || long == nil {
		return 0
	}

	s := short[len(short)-1]
	l := long[len(long)-1]
	switch {
	case s > l:
		return 1
	case s < l:
		return -1
	default:
		return 0
	}
}
