// Package domain holds the core types shared by every module: securities,
// price and dividend history, analysis results, portfolios and backtest
// output, plus the error taxonomy and the provider interfaces.
package domain

import "time"

// AssetClass distinguishes single equities from funds.
type AssetClass string

const (
	AssetClassStock AssetClass = "stock"
	AssetClassETF   AssetClass = "etf"
)

// PaymentFrequency classifies how often a security pays dividends,
// derived from trailing-twelve-month payment counts.
type PaymentFrequency string

const (
	FrequencyMonthly    PaymentFrequency = "monthly"
	FrequencyQuarterly  PaymentFrequency = "quarterly"
	FrequencySemiAnnual PaymentFrequency = "semi-annual"
	FrequencyAnnual     PaymentFrequency = "annual"
	FrequencyIrregular  PaymentFrequency = "irregular"
	FrequencyNone       PaymentFrequency = "none"
)

// Security represents one investable instrument in the universe.
type Security struct {
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name"`
	AssetClass    AssetClass       `json:"asset_class"`
	Sector        string           `json:"sector"`
	Currency      string           `json:"currency"`
	Price         float64          `json:"price"`           // Last known close
	TTMDividend   float64          `json:"ttm_dividend"`    // Trailing 12-month dividends per share
	DividendYield float64          `json:"dividend_yield"`  // TTMDividend / Price, as a fraction
	Frequency     PaymentFrequency `json:"payment_frequency"`
	PayoutRatio   float64          `json:"payout_ratio"` // Dividends / earnings, fraction; 0 when unknown
	UpdatedAt     time.Time        `json:"updated_at"`
}

// PriceBar is one daily OHLCV observation.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// DividendPayment is one per-share cash distribution.
type DividendPayment struct {
	ExDate time.Time `json:"ex_date"`
	Amount float64   `json:"amount"` // Per share, in the security's currency
}

// PayoutTrend describes the direction of the payout-ratio history.
type PayoutTrend string

const (
	TrendRising  PayoutTrend = "rising"
	TrendFlat    PayoutTrend = "flat"
	TrendFalling PayoutTrend = "falling"
)

// RatingBucket is the letter grade assigned to a sustainability score.
type RatingBucket string

const (
	RatingA                RatingBucket = "A"
	RatingB                RatingBucket = "B"
	RatingC                RatingBucket = "C"
	RatingD                RatingBucket = "D"
	RatingInsufficientData RatingBucket = "insufficient-data"
)

// ScoreComponent is one line of a sustainability score breakdown.
type ScoreComponent struct {
	Value float64 `json:"value"` // The underlying metric (ratio, CAGR, streak years)
	Score float64 `json:"score"` // Points awarded
	Max   float64 `json:"max"`   // Maximum points possible
}

// SustainabilityScore is the result of analyzing a security's dividend
// history for durability of the payout.
type SustainabilityScore struct {
	Symbol        string                    `json:"symbol"`
	Score         float64                   `json:"score"`  // 0..100
	Rating        RatingBucket              `json:"rating"` // A/B/C/D or insufficient-data
	StreakYears   int                       `json:"streak_years"`
	DividendCAGR  float64                   `json:"dividend_cagr"` // Over the analysis window
	PayoutRatio   float64                   `json:"payout_ratio"`
	PayoutTrend   PayoutTrend               `json:"payout_trend"`
	Breakdown     map[string]ScoreComponent `json:"breakdown"`
	AnalyzedYears float64                   `json:"analyzed_years"` // Span of history actually used
	AsOf          time.Time                 `json:"as_of"`
}

// RiskGrade buckets a security's combined volatility/drawdown profile.
type RiskGrade string

const (
	RiskGradeA RiskGrade = "A"
	RiskGradeB RiskGrade = "B"
	RiskGradeC RiskGrade = "C"
)

// RiskProfile holds per-security risk metrics over the analysis window.
type RiskProfile struct {
	Symbol               string    `json:"symbol"`
	AnnualizedVolatility float64   `json:"annualized_volatility"`
	SharpeRatio          *float64  `json:"sharpe_ratio"` // nil when undefined
	MaxDrawdown          float64   `json:"max_drawdown"` // Negative fraction
	Beta                 *float64  `json:"beta"`         // vs benchmark; nil when benchmark unavailable
	Grade                RiskGrade `json:"grade"`
	EMATrend             int       `json:"ema_trend"` // +1 up, -1 down, 0 flat/unknown
	Observations         int       `json:"observations"`
	AsOf                 time.Time `json:"as_of"`
}

// Holding is one position in a constructed portfolio.
type Holding struct {
	Symbol              string  `json:"symbol"`
	Weight              float64 `json:"weight"` // Fraction of portfolio value
	Value               float64 `json:"value"`  // Currency amount
	Shares              float64 `json:"shares"`
	ProjectedAnnualDivs float64 `json:"projected_annual_dividends"`
	Sector              string  `json:"sector"`
	SustainabilityScore float64 `json:"sustainability_score"`
	DividendYield       float64 `json:"dividend_yield"`
}

// OptimizationMode selects the weighting algorithm.
type OptimizationMode string

const (
	ModeGreedy     OptimizationMode = "greedy"
	ModeRiskParity OptimizationMode = "risk-parity"
)

// Portfolio is the output of one optimizer run.
type Portfolio struct {
	ID                     string           `json:"id"`
	Tier                   string           `json:"tier"`
	Mode                   OptimizationMode `json:"mode"`
	Holdings               []Holding        `json:"holdings"`
	TotalValue             float64          `json:"total_value"`
	ProjectedMonthlyIncome float64          `json:"projected_monthly_income"`
	TargetMonthlyIncome    float64          `json:"target_monthly_income"`
	PortfolioYield         float64          `json:"portfolio_yield"`
	Warnings               []string         `json:"warnings,omitempty"`
	BuiltAt                time.Time        `json:"built_at"`
}

// DividendPolicy controls what a backtest does with dividend cash.
type DividendPolicy string

const (
	PolicyReinvest DividendPolicy = "reinvest"
	PolicyCash     DividendPolicy = "cash"
)

// RebalanceFrequency controls how often a backtest re-optimizes.
type RebalanceFrequency string

const (
	RebalanceNone      RebalanceFrequency = "none"
	RebalanceMonthly   RebalanceFrequency = "monthly"
	RebalanceQuarterly RebalanceFrequency = "quarterly"
	RebalanceAnnual    RebalanceFrequency = "annual"
)

// NAVPoint is one dated net-asset-value observation.
type NAVPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// IncomePoint is dividend income received on one date.
type IncomePoint struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
	Symbol string    `json:"symbol"`
}

// BacktestResult is the full output of a backtest run.
type BacktestResult struct {
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	InitialValue   float64       `json:"initial_value"`
	FinalValue     float64       `json:"final_value"`
	TotalReturn    float64       `json:"total_return"` // Fraction, dividend-inclusive
	CAGR           float64       `json:"cagr"`
	MaxDrawdown    float64       `json:"max_drawdown"`
	SharpeRatio    *float64      `json:"sharpe_ratio"`
	TotalDividends float64       `json:"total_dividends"`
	NAVSeries      []NAVPoint    `json:"nav_series"`
	IncomeSeries   []IncomePoint `json:"income_series"`
	Rebalances     int           `json:"rebalances"`
	Warnings       []string      `json:"warnings,omitempty"`
}
