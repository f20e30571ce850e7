// Package formulas provides the shared financial math used by the scoring,
// optimization and backtest modules. All functions are pure and operate on
// plain float64 slices so they can be unit-tested without fixtures.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the conventional number of trading days used for
// annualizing daily figures.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns.
// Formula: stdev(daily returns) × sqrt(252)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// SimpleReturns converts a price series to simple periodic returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// LogReturns converts a price series to log returns.
// Returns[i] = ln(Price[i+1] / Price[i])
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			returns[i-1] = math.Log(prices[i] / prices[i-1])
		}
	}
	return returns
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the sample covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// Beta calculates the beta of an asset's returns against benchmark returns.
// Beta = cov(asset, benchmark) / var(benchmark). Returns 0 when the benchmark
// variance is zero or the series are mismatched.
func Beta(assetReturns, benchmarkReturns []float64) float64 {
	if len(assetReturns) != len(benchmarkReturns) || len(assetReturns) < 2 {
		return 0
	}
	benchVar := Variance(benchmarkReturns)
	if benchVar == 0 {
		return 0
	}
	return Covariance(assetReturns, benchmarkReturns) / benchVar
}

// AnnualizedReturn calculates the annualized return from daily returns.
//
// Formula: ((1+r1)*(1+r2)*...*(1+rN))^(252/N) - 1
func AnnualizedReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}

	numPeriods := float64(len(returns))

	// For very short periods (< 3 days), return simple cumulative return
	// to avoid extreme annualization
	if numPeriods < 3 {
		return cumulative - 1
	}

	years := numPeriods / TradingDaysPerYear
	return math.Pow(cumulative, 1.0/years) - 1
}

// TrendSlope fits an ordinary least-squares line through the series and
// returns its slope. The x axis is the element index, so the slope is in
// units of value-per-observation.
func TrendSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)
	return slope
}
