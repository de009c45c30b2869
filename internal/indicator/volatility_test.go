package indicator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-trader/internal/exchange"
)

type fakeCandleSource struct {
	candles []exchange.Candle
	err     error
	limit   int
}

func (f *fakeCandleSource) Candles(ctx context.Context, pair string, timeframe string, limit int) ([]exchange.Candle, error) {
	f.limit = limit
	return f.candles, f.err
}

func makeCandles(n int, rangeWidth float64) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = exchange.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100,
			High:      100 + rangeWidth/2,
			Low:       100 - rangeWidth/2,
			Close:     100,
			Volume:    10,
		}
	}
	return candles
}

func TestVolatilityEstimator_CalmMarket(t *testing.T) {
	source := &fakeCandleSource{candles: makeCandles(45, 1)}
	est := NewVolatilityEstimator(source, 0.03, nil)

	volatile, err := est.Volatile(context.Background(), "XBT/USD")
	require.NoError(t, err)
	assert.False(t, volatile)
}

func TestVolatilityEstimator_VolatileMarket(t *testing.T) {
	// 每根K线高低点相差10，相对ATR约10%，远超3%阈值。
	source := &fakeCandleSource{candles: makeCandles(45, 10)}
	est := NewVolatilityEstimator(source, 0.03, nil)

	volatile, err := est.Volatile(context.Background(), "XBT/USD")
	require.NoError(t, err)
	assert.True(t, volatile)
}

func TestVolatilityEstimator_InsufficientData(t *testing.T) {
	source := &fakeCandleSource{candles: makeCandles(5, 10)}
	est := NewVolatilityEstimator(source, 0.03, nil)

	volatile, err := est.Volatile(context.Background(), "XBT/USD")
	require.NoError(t, err)
	assert.False(t, volatile)
}

func TestVolatilityEstimator_SourceError(t *testing.T) {
	source := &fakeCandleSource{err: assert.AnError}
	est := NewVolatilityEstimator(source, 0.03, nil)

	_, err := est.Volatile(context.Background(), "XBT/USD")
	assert.Error(t, err)
}

func TestSeriesHelpers(t *testing.T) {
	series := NewSeries(makeCandles(3, 2))
	assert.Equal(t, 3, series.Len())
	assert.Equal(t, 100.0, Last(series.Close))
	assert.True(t, math.IsNaN(Last(nil)))
}
