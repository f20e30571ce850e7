package optimizer

import (
	"math"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/scoring"
)

// riskParityMinOverlap is the minimum shared observations for a covariance
// pair; pairs below it contribute zero covariance.
const riskParityMinOverlap = 30

// applyRiskParity re-weights the greedy-selected positions so each holding
// contributes equally to portfolio volatility, then re-sizes values so
// projected income matches the target. On non-convergence or a degenerate
// covariance structure it falls back to equal weights and returns a warning
// instead of failing.
func (o *Optimizer) applyRiskParity(snap *scoring.Snapshot, sel *selection) []string {
	n := len(sel.positions)
	if n == 0 {
		return nil
	}

	symbols := make([]string, n)
	for i, pos := range sel.positions {
		symbols[i] = pos.cand.sec.Symbol
	}

	var warnings []string
	weights := make([]float64, n)

	cov := risk.Covariance(snap.PriceSeries, symbols, riskParityMinOverlap)

	if degenerate(cov, snap, symbols) {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		warnings = append(warnings, "risk parity: degenerate covariance structure, using equal weights")
		o.log.Warn().Strs("symbols", symbols).Msg("degenerate covariance, equal-weight fallback")
	} else {
		solved, err := solveRiskParity(cov, o.cfg.RiskParityTolerance, o.cfg.RiskParityMaxIter)
		if err != nil {
			for i := range weights {
				weights[i] = 1.0 / float64(n)
			}
			warnings = append(warnings, "risk parity: solver did not converge, using equal weights")
			o.log.Warn().Err(err).Strs("symbols", symbols).Msg("risk parity fallback")
		} else {
			weights = solved
		}
	}

	// Re-size values so the weighted portfolio still earns the target
	portfolioYield := 0.0
	for i, pos := range sel.positions {
		portfolioYield += weights[i] * pos.cand.sec.DividendYield
	}
	totalValue := sel.totalValue()
	if portfolioYield > 0 {
		totalValue = 12 * sel.target / portfolioYield
	}
	for i := range sel.positions {
		sel.positions[i].value = weights[i] * totalValue
	}

	return warnings
}

// solveRiskParity runs the fixed-point proportional rescaling: starting from
// equal weights, each weight is scaled by the ratio of its target risk
// contribution to its current one, renormalized, until contributions equalize
// within tolerance. Returns ConvergenceError when the iteration cap is hit or
// the structure cannot produce positive risk contributions.
func solveRiskParity(cov [][]float64, tol float64, maxIter int) ([]float64, error) {
	n := len(cov)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0 / float64(n)
	}
	targetRC := 1.0 / float64(n)

	residual := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		// Marginal risk: (Σw)_i
		marginal := make([]float64, n)
		portVar := 0.0
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				marginal[i] += cov[i][j] * weights[j]
			}
			portVar += weights[i] * marginal[i]
		}
		if portVar <= 0 {
			return nil, &domain.ConvergenceError{
				Algorithm:  "risk-parity",
				Iterations: iter,
				Residual:   math.Inf(1),
				Tolerance:  tol,
			}
		}

		// Fractional risk contributions
		residual = 0
		contributions := make([]float64, n)
		for i := 0; i < n; i++ {
			contributions[i] = weights[i] * marginal[i] / portVar
			if dev := math.Abs(contributions[i] - targetRC); dev > residual {
				residual = dev
			}
		}
		if residual < tol {
			return weights, nil
		}

		// Proportional rescaling toward equal contributions
		sum := 0.0
		for i := 0; i < n; i++ {
			if contributions[i] <= 0 {
				return nil, &domain.ConvergenceError{
					Algorithm:  "risk-parity",
					Iterations: iter,
					Residual:   residual,
					Tolerance:  tol,
				}
			}
			weights[i] *= targetRC / contributions[i]
			sum += weights[i]
		}
		for i := range weights {
			weights[i] /= sum
		}
	}

	return nil, &domain.ConvergenceError{
		Algorithm:  "risk-parity",
		Iterations: maxIter,
		Residual:   residual,
		Tolerance:  tol,
	}
}

// degenerate reports covariance structures the fixed point cannot meaningfully
// solve: zero-variance assets or perfectly correlated pairs.
func degenerate(cov [][]float64, snap *scoring.Snapshot, symbols []string) bool {
	for i := range cov {
		if cov[i][i] <= 0 {
			return true
		}
	}
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			if math.Abs(snap.Correlations.Get(symbols[i], symbols[j])) > 1-1e-9 {
				return true
			}
		}
	}
	return false
}
