package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEMA(t *testing.T) {
	t.Run("too short returns nil", func(t *testing.T) {
		assert.Nil(t, EMA([]float64{1, 2}, 5))
	})

	t.Run("constant series converges to the constant", func(t *testing.T) {
		values := make([]float64, 50)
		for i := range values {
			values[i] = 42
		}
		ema := EMA(values, 10)
		assert.InDelta(t, 42, ema[len(ema)-1], 1e-9)
	})
}

func TestEMATrend(t *testing.T) {
	rising := make([]float64, 100)
	falling := make([]float64, 100)
	for i := range rising {
		rising[i] = 100 + float64(i)
		falling[i] = 200 - float64(i)
	}

	assert.Equal(t, 1, EMATrend(rising, 12, 26))
	assert.Equal(t, -1, EMATrend(falling, 12, 26))
	assert.Equal(t, 0, EMATrend(rising[:10], 12, 26))
	assert.Equal(t, 0, EMATrend(rising, 26, 12))
}
