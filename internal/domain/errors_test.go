package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyUnwrapping(t *testing.T) {
	t.Run("data gap survives wrapping", func(t *testing.T) {
		inner := &DataGapError{Symbol: "XYZ", Expected: 252, Actual: 200, MissingRatio: 0.206}
		wrapped := fmt.Errorf("risk analysis failed: %w", inner)

		var gapErr *DataGapError
		require.True(t, errors.As(wrapped, &gapErr))
		assert.Equal(t, "XYZ", gapErr.Symbol)
		assert.Contains(t, wrapped.Error(), "20.6% missing")
	})

	t.Run("infeasible portfolio carries achieved income", func(t *testing.T) {
		err := &InfeasiblePortfolioError{
			Tier:            "defensive",
			TargetMonthly:   500,
			AchievedMonthly: 180,
			MinFraction:     0.5,
		}
		wrapped := fmt.Errorf("build failed: %w", err)

		var infeasible *InfeasiblePortfolioError
		require.True(t, errors.As(wrapped, &infeasible))
		assert.InDelta(t, 180, infeasible.AchievedMonthly, 1e-9)
	})

	t.Run("cancelled backtest reports progress", func(t *testing.T) {
		err := &BacktestCancelledError{
			CompletedThrough: time.Date(2022, 6, 15, 0, 0, 0, 0, time.UTC),
			StepsCompleted:   380,
		}
		assert.Contains(t, err.Error(), "380 steps")
		assert.Contains(t, err.Error(), "2022-06-15")
	})

	t.Run("convergence error formats residual", func(t *testing.T) {
		err := &ConvergenceError{Algorithm: "risk-parity", Iterations: 500, Residual: 0.01, Tolerance: 1e-6}
		assert.Contains(t, err.Error(), "risk-parity")
		assert.Contains(t, err.Error(), "500 iterations")
	})
}
