package risk

import (
	"math"
	"sort"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/pkg/formulas"
)

// CorrelationMatrix holds pairwise return correlations for a symbol set.
// The diagonal is 1 and the matrix is symmetric.
type CorrelationMatrix struct {
	Symbols []string
	index   map[string]int
	values  [][]float64
}

// Get returns the correlation between two symbols, or 0 when either is
// unknown to the matrix.
func (m *CorrelationMatrix) Get(a, b string) float64 {
	i, okA := m.index[a]
	j, okB := m.index[b]
	if !okA || !okB {
		return 0
	}
	return m.values[i][j]
}

// Has reports whether the matrix covers the symbol.
func (m *CorrelationMatrix) Has(symbol string) bool {
	_, ok := m.index[symbol]
	return ok
}

// BuildCorrelationMatrix computes pairwise Pearson correlations of simple
// daily returns, aligned per pair to the intersection of trading dates.
// Pairs with fewer than minOverlap shared observations get correlation 0.
func BuildCorrelationMatrix(series map[string][]domain.PriceBar, minOverlap int) *CorrelationMatrix {
	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	n := len(symbols)
	index := make(map[string]int, n)
	for i, sym := range symbols {
		index[sym] = i
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		values[i][i] = 1
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			aCloses, bCloses := alignCloses(series[symbols[i]], series[symbols[j]])
			if len(aCloses) < minOverlap {
				continue
			}
			corr := formulas.Correlation(
				formulas.SimpleReturns(aCloses),
				formulas.SimpleReturns(bCloses),
			)
			// Rounding can push identical series a hair past +/-1
			corr = math.Max(-1, math.Min(1, corr))
			values[i][j] = corr
			values[j][i] = corr
		}
	}

	return &CorrelationMatrix{Symbols: symbols, index: index, values: values}
}

// Covariance returns the sample covariance matrix of daily returns for the
// given symbols, aligned pairwise. Used by the risk-parity solver. The
// returned matrix follows the order of the symbols argument; symbols missing
// from the series map get zero rows.
func Covariance(series map[string][]domain.PriceBar, symbols []string, minOverlap int) [][]float64 {
	n := len(symbols)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			aCloses, bCloses := alignCloses(series[symbols[i]], series[symbols[j]])
			if len(aCloses) < minOverlap {
				continue
			}
			c := formulas.Covariance(
				formulas.SimpleReturns(aCloses),
				formulas.SimpleReturns(bCloses),
			)
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov
}
