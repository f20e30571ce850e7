package formulas

import "math"

// SharpeRatio calculates the annualized Sharpe ratio from periodic returns.
//
// Sharpe = (mean return - periodic risk-free rate) / stdev(returns) × sqrt(periods/year)
//
// Args:
//
//	returns: Array of periodic returns (daily, monthly, etc.)
//	riskFreeRate: Risk-free rate (annual, as decimal, e.g. 0.02 for 2%)
//	periodsPerYear: Number of periods per year (252 for daily, 12 for monthly)
//
// Returns:
//
//	Annualized Sharpe ratio, or nil if there is not enough data or the
//	return series has zero dispersion.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev
	annualized := sharpe * math.Sqrt(float64(periodsPerYear))
	return &annualized
}

// SharpeFromPrices is a convenience wrapper that derives daily returns from a
// price series and calculates the annualized Sharpe ratio.
func SharpeFromPrices(prices []float64, riskFreeRate float64) *float64 {
	if len(prices) < 2 {
		return nil
	}
	return SharpeRatio(SimpleReturns(prices), riskFreeRate, TradingDaysPerYear)
}
