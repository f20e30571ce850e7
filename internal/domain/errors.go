package domain

import (
	"fmt"
	"time"
)

// DataGapError reports that a price series is missing too many expected
// trading days to be analyzed. Gaps are surfaced, never interpolated over.
type DataGapError struct {
	Symbol       string
	Expected     int     // Expected trading days in the window
	Actual       int     // Observed trading days
	MissingRatio float64 // 1 - Actual/Expected
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap for %s: %d of %d expected trading days (%.1f%% missing)",
		e.Symbol, e.Actual, e.Expected, e.MissingRatio*100)
}

// InsufficientHistoryError reports that a series is too short for the
// requested analysis.
type InsufficientHistoryError struct {
	Symbol   string
	Required time.Duration
	Have     time.Duration
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s: have %s, need %s",
		e.Symbol, e.Have, e.Required)
}

// DataUnavailableError reports that no data exists at all for a symbol.
type DataUnavailableError struct {
	Symbol string
	Kind   string // "prices" or "dividends"
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no %s data available for %s", e.Kind, e.Symbol)
}

// InfeasiblePortfolioError reports that the optimizer could not reach the
// minimum acceptable fraction of the income target under the active
// constraints.
type InfeasiblePortfolioError struct {
	Tier            string
	TargetMonthly   float64
	AchievedMonthly float64
	MinFraction     float64
}

func (e *InfeasiblePortfolioError) Error() string {
	return fmt.Sprintf("infeasible portfolio for tier %s: achieved %.2f/month of %.2f target (minimum %.0f%%)",
		e.Tier, e.AchievedMonthly, e.TargetMonthly, e.MinFraction*100)
}

// ConvergenceError reports that an iterative solver did not converge. The
// risk-parity optimizer downgrades this to an equal-weight fallback with a
// warning, but the raw solver still reports it.
type ConvergenceError struct {
	Algorithm  string
	Iterations int
	Residual   float64
	Tolerance  float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge after %d iterations (residual %.2e, tolerance %.2e)",
		e.Algorithm, e.Iterations, e.Residual, e.Tolerance)
}

// ConstraintViolationError reports that a finished portfolio violates a hard
// constraint. This is a bug guard: constraints are enforced during
// construction, so a violation at validation time is an error, not a clamp.
type ConstraintViolationError struct {
	Tier       string
	Constraint string
	Detail     string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("portfolio for tier %s violates %s: %s", e.Tier, e.Constraint, e.Detail)
}

// ConfigurationError reports invalid or unparseable configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Reason)
}

// BacktestCancelledError reports that a backtest was cancelled mid-run. It
// carries how far the simulation got so callers can report partial progress.
type BacktestCancelledError struct {
	CompletedThrough time.Time
	StepsCompleted   int
}

func (e *BacktestCancelledError) Error() string {
	return fmt.Sprintf("backtest cancelled after %d steps (completed through %s)",
		e.StepsCompleted, e.CompletedThrough.Format("2006-01-02"))
}
