// Package backtest replays a portfolio against historical prices and
// dividends in daily steps. Rebalance boundaries optionally re-run the
// optimizer using only data timestamped at or before the boundary, so no
// future information leaks into weight choices.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/optimizer"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/tiers"
	"github.com/aristath/divvy/pkg/formulas"
)

// SnapshotBuilder produces a scored snapshot as of a cutoff date. The builder
// must only consult data at or before the cutoff.
type SnapshotBuilder interface {
	Build(ctx context.Context, asOf time.Time) (*scoring.Snapshot, error)
}

// Config holds engine-level settings.
type Config struct {
	RiskFreeRate float64 // Annual, for the Sharpe calculation
}

// Engine runs backtests. builder and opt may be nil when periodic
// re-optimization is not used.
type Engine struct {
	history domain.HistoryProvider
	builder SnapshotBuilder
	opt     *optimizer.Optimizer
	cfg     Config
	log     zerolog.Logger
}

// New creates a backtest engine.
func New(history domain.HistoryProvider, builder SnapshotBuilder, opt *optimizer.Optimizer, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		history: history,
		builder: builder,
		opt:     opt,
		cfg:     cfg,
		log:     log.With().Str("component", "backtest").Logger(),
	}
}

// Request describes one backtest run. Portfolio supplies the starting
// weights. A non-nil Tier enables re-optimization at every rebalance
// boundary, rebuilding the snapshot as of the boundary date; with a nil Tier,
// rebalancing restores the starting weights instead.
type Request struct {
	Portfolio           *domain.Portfolio
	Tier                *tiers.TierConfig
	TargetMonthlyIncome float64
	Mode                domain.OptimizationMode

	Start          time.Time
	End            time.Time
	InitialCapital float64
	Rebalance      domain.RebalanceFrequency
	DividendPolicy domain.DividendPolicy
}

func (r *Request) validate() error {
	fail := func(field, reason string) error {
		return &domain.ConfigurationError{Field: field, Reason: reason}
	}
	if r.Portfolio == nil || len(r.Portfolio.Holdings) == 0 {
		return fail("portfolio", "must have at least one holding")
	}
	if r.InitialCapital <= 0 {
		return fail("initial_capital", "must be positive")
	}
	if !r.Start.Before(r.End) {
		return fail("horizon", "start must precede end")
	}
	switch r.DividendPolicy {
	case domain.PolicyReinvest, domain.PolicyCash:
	default:
		return fail("dividend_policy", fmt.Sprintf("unknown policy %q", r.DividendPolicy))
	}
	switch r.Rebalance {
	case domain.RebalanceNone, domain.RebalanceMonthly, domain.RebalanceQuarterly, domain.RebalanceAnnual:
	default:
		return fail("rebalance_frequency", fmt.Sprintf("unknown frequency %q", r.Rebalance))
	}
	if r.Tier != nil {
		if r.TargetMonthlyIncome <= 0 {
			return fail("target_monthly_income", "must be positive when re-optimizing")
		}
	}
	return nil
}

// series is one symbol's price and dividend history with cursors that advance
// monotonically through the simulation calendar.
type series struct {
	bars []domain.PriceBar
	divs []domain.DividendPayment

	priceIdx int // Last bar on or before the current day, -1 before the first
	divIdx   int // Next unprocessed dividend
}

func (s *series) advanceTo(day time.Time) {
	for s.priceIdx+1 < len(s.bars) && !dayOf(s.bars[s.priceIdx+1].Date).After(day) {
		s.priceIdx++
	}
}

func (s *series) lastClose() float64 {
	if s.priceIdx < 0 {
		return 0
	}
	return s.bars[s.priceIdx].Close
}

// simulation is the mutable state of one run.
type simulation struct {
	req     *Request
	series  map[string]*series
	symbols []string // Sorted keys of series, for deterministic iteration

	cash    float64
	shares  map[string]float64
	targets map[string]float64 // Current target weights
	// Buy orders that could not fill because the symbol had not traded yet
	unfilled map[string]float64 // Symbol -> currency amount

	nav       []domain.NAVPoint
	income    []domain.IncomePoint
	totalDivs float64
	warnings  []string
	rebal     int
}

// Run executes the backtest. On context cancellation it returns
// BacktestCancelledError carrying the progress made so far.
func (e *Engine) Run(ctx context.Context, req *Request) (*domain.BacktestResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Tier != nil && (e.builder == nil || e.opt == nil) {
		return nil, &domain.ConfigurationError{
			Field:  "tier",
			Reason: "re-optimization requires a snapshot builder and optimizer",
		}
	}

	sim := &simulation{
		req:      req,
		series:   make(map[string]*series),
		cash:     req.InitialCapital,
		shares:   make(map[string]float64),
		targets:  make(map[string]float64),
		unfilled: make(map[string]float64),
	}
	for _, h := range req.Portfolio.Holdings {
		sim.targets[h.Symbol] = h.Weight
		if err := e.loadSeries(ctx, sim, h.Symbol, req.Start); err != nil {
			return nil, err
		}
	}

	calendar := buildCalendar(sim, req.Start, req.End)
	if len(calendar) == 0 {
		return nil, fmt.Errorf("no price data between %s and %s",
			req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))
	}

	prevDay := time.Time{}
	for step, day := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, &domain.BacktestCancelledError{
				CompletedThrough: prevDay,
				StepsCompleted:   step,
			}
		}

		for _, sym := range sim.symbols {
			sim.series[sym].advanceTo(day)
		}

		if step == 0 {
			e.invest(sim, day)
		} else if req.Rebalance != domain.RebalanceNone &&
			periodOf(day, req.Rebalance) != periodOf(prevDay, req.Rebalance) {
			sim.rebal++
			if req.Tier != nil {
				e.reoptimize(ctx, sim, day)
			}
			e.invest(sim, day)
		}

		e.fillPending(sim)
		e.accrueDividends(sim, day)

		sim.nav = append(sim.nav, domain.NAVPoint{Date: day, Value: sim.marketValue() + sim.cash})
		prevDay = day
	}

	result := e.report(sim, calendar)
	e.log.Info().
		Time("start", result.StartDate).
		Time("end", result.EndDate).
		Float64("total_return", result.TotalReturn).
		Int("rebalances", result.Rebalances).
		Msg("backtest complete")
	return result, nil
}

// loadSeries fetches one symbol's horizon history once. Dividends that went
// ex before from are consumed up front: a symbol introduced mid-run must not
// collect payments from before it could first be held.
func (e *Engine) loadSeries(ctx context.Context, sim *simulation, symbol string, from time.Time) error {
	if _, ok := sim.series[symbol]; ok {
		return nil
	}
	bars, err := e.history.GetDailyPrices(ctx, symbol, sim.req.Start, sim.req.End)
	if err != nil {
		return fmt.Errorf("loading prices for %s: %w", symbol, err)
	}
	divs, err := e.history.GetDividends(ctx, symbol, sim.req.Start, sim.req.End)
	if err != nil {
		return fmt.Errorf("loading dividends for %s: %w", symbol, err)
	}
	s := &series{bars: bars, divs: divs, priceIdx: -1}
	for s.divIdx < len(s.divs) && dayOf(s.divs[s.divIdx].ExDate).Before(dayOf(from)) {
		s.divIdx++
	}
	sim.series[symbol] = s
	sim.symbols = append(sim.symbols, symbol)
	sort.Strings(sim.symbols)
	return nil
}

// buildCalendar returns the sorted union of trading dates across the loaded
// series, clipped to the horizon. Symbols added later by re-optimization do
// not extend the calendar.
func buildCalendar(sim *simulation, start, end time.Time) []time.Time {
	startDay, endDay := dayOf(start), dayOf(end)
	seen := make(map[time.Time]struct{})
	for _, s := range sim.series {
		for _, bar := range s.bars {
			day := dayOf(bar.Date)
			if day.Before(startDay) || day.After(endDay) {
				continue
			}
			seen[day] = struct{}{}
		}
	}
	calendar := make([]time.Time, 0, len(seen))
	for day := range seen {
		calendar = append(calendar, day)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })
	return calendar
}

// invest liquidates current positions and redeploys the full value across the
// target weights at last-known closes. Symbols that have not traded yet stay
// as pending buy orders filled on their first trade.
func (e *Engine) invest(sim *simulation, day time.Time) {
	for _, sym := range sim.symbols {
		if qty := sim.shares[sym]; qty > 0 {
			sim.cash += qty * sim.series[sym].lastClose()
			delete(sim.shares, sym)
		}
	}
	sim.unfilled = make(map[string]float64)

	total := sim.cash
	targets := make([]string, 0, len(sim.targets))
	for sym := range sim.targets {
		targets = append(targets, sym)
	}
	sort.Strings(targets)

	for _, sym := range targets {
		amount := sim.targets[sym] * total
		price := sim.series[sym].lastClose()
		if price <= 0 {
			sim.unfilled[sym] = amount
			continue
		}
		sim.shares[sym] += amount / price
		sim.cash -= amount
	}
}

// fillPending executes buy orders whose symbols have since started trading.
func (e *Engine) fillPending(sim *simulation) {
	if len(sim.unfilled) == 0 {
		return
	}
	pending := make([]string, 0, len(sim.unfilled))
	for sym := range sim.unfilled {
		pending = append(pending, sym)
	}
	sort.Strings(pending)

	for _, sym := range pending {
		price := sim.series[sym].lastClose()
		if price <= 0 {
			continue
		}
		amount := sim.unfilled[sym]
		if amount > sim.cash {
			amount = sim.cash
		}
		if amount <= 0 {
			delete(sim.unfilled, sym)
			continue
		}
		sim.shares[sym] += amount / price
		sim.cash -= amount
		delete(sim.unfilled, sym)
	}
}

// accrueDividends credits any dividend whose ex-date falls on or before the
// current day, applying the configured policy.
func (e *Engine) accrueDividends(sim *simulation, day time.Time) {
	for _, sym := range sim.symbols {
		s := sim.series[sym]
		for s.divIdx < len(s.divs) && !dayOf(s.divs[s.divIdx].ExDate).After(day) {
			div := s.divs[s.divIdx]
			s.divIdx++

			qty := sim.shares[sym]
			if qty <= 0 {
				continue
			}
			amount := qty * div.Amount
			sim.totalDivs += amount
			sim.income = append(sim.income, domain.IncomePoint{Date: day, Amount: amount, Symbol: sym})

			if sim.req.DividendPolicy == domain.PolicyReinvest {
				if price := s.lastClose(); price > 0 {
					sim.shares[sym] += amount / price
					continue
				}
			}
			sim.cash += amount
		}
	}
}

// reoptimize rebuilds the snapshot as of the boundary day and replaces the
// target weights with a fresh optimizer run. Failures leave the current
// weights in place with a warning rather than aborting the simulation.
func (e *Engine) reoptimize(ctx context.Context, sim *simulation, day time.Time) {
	snap, err := e.builder.Build(ctx, day)
	if err != nil {
		sim.warn(day, fmt.Sprintf("snapshot rebuild failed: %v", err))
		return
	}

	p, err := e.opt.Build(snap, *sim.req.Tier, sim.req.TargetMonthlyIncome, sim.req.Mode)
	if err != nil {
		sim.warn(day, fmt.Sprintf("re-optimization failed: %v", err))
		return
	}

	targets := make(map[string]float64, len(p.Holdings))
	for _, h := range p.Holdings {
		if err := e.loadSeries(ctx, sim, h.Symbol, day); err != nil {
			sim.warn(day, fmt.Sprintf("skipping %s: %v", h.Symbol, err))
			continue
		}
		targets[h.Symbol] = h.Weight
	}
	if len(targets) == 0 {
		sim.warn(day, "re-optimization produced no tradeable holdings")
		return
	}
	// Cursors for newly loaded symbols start at the boundary
	for _, sym := range sim.symbols {
		sim.series[sym].advanceTo(day)
	}
	sim.targets = targets
}

func (sim *simulation) warn(day time.Time, msg string) {
	sim.warnings = append(sim.warnings, fmt.Sprintf("%s: %s", day.Format("2006-01-02"), msg))
}

func (sim *simulation) marketValue() float64 {
	total := 0.0
	for _, sym := range sim.symbols {
		if qty := sim.shares[sym]; qty > 0 {
			total += qty * sim.series[sym].lastClose()
		}
	}
	return total
}

// report derives the summary metrics from the finished series.
func (e *Engine) report(sim *simulation, calendar []time.Time) *domain.BacktestResult {
	values := make([]float64, len(sim.nav))
	for i, p := range sim.nav {
		values[i] = p.Value
	}

	initial := sim.req.InitialCapital
	final := values[len(values)-1]
	years := calendar[len(calendar)-1].Sub(calendar[0]).Hours() / 24 / 365.25

	return &domain.BacktestResult{
		StartDate:      calendar[0],
		EndDate:        calendar[len(calendar)-1],
		InitialValue:   initial,
		FinalValue:     final,
		TotalReturn:    final/initial - 1,
		CAGR:           formulas.CAGR(initial, final, years),
		MaxDrawdown:    formulas.MaxDrawdown(values),
		SharpeRatio:    formulas.SharpeRatio(formulas.SimpleReturns(values), e.cfg.RiskFreeRate, formulas.TradingDaysPerYear),
		TotalDividends: sim.totalDivs,
		NAVSeries:      sim.nav,
		IncomeSeries:   sim.income,
		Rebalances:     sim.rebal,
		Warnings:       sim.warnings,
	}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// periodOf maps a date onto its rebalance period so boundary crossings are
// detectable by comparing consecutive calendar days.
func periodOf(t time.Time, freq domain.RebalanceFrequency) int {
	switch freq {
	case domain.RebalanceMonthly:
		return t.Year()*12 + int(t.Month()) - 1
	case domain.RebalanceQuarterly:
		return t.Year()*4 + (int(t.Month())-1)/3
	case domain.RebalanceAnnual:
		return t.Year()
	default:
		return 0
	}
}
