package indicator

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"kraken-trader/internal/exchange"
)

// CandleSource 提供波动率估算所需的K线数据。
type CandleSource interface {
	Candles(ctx context.Context, pair string, timeframe string, limit int) ([]exchange.Candle, error)
}

// VolatilityEstimator 基于1小时K线的相对ATR判断市场是否处于
// 高波动状态，作为行情24小时区间缺失时的兜底。
type VolatilityEstimator struct {
	source    CandleSource
	threshold float64
	timeframe string
	period    int
	logger    *zap.Logger
}

// NewVolatilityEstimator 创建波动率估算器。threshold 为相对ATR阈值，
// 例如 0.03 表示ATR超过现价3%时视为高波动。
func NewVolatilityEstimator(source CandleSource, threshold float64, logger *zap.Logger) *VolatilityEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 0.03
	}

	return &VolatilityEstimator{
		source:    source,
		threshold: threshold,
		timeframe: "1h",
		period:    14,
		logger:    logger,
	}
}

// Volatile 判断交易对当前是否高波动。数据不足时返回 false。
func (e *VolatilityEstimator) Volatile(ctx context.Context, pair string) (bool, error) {
	limit := e.period * 3
	candles, err := e.source.Candles(ctx, pair, e.timeframe, limit)
	if err != nil {
		return false, fmt.Errorf("indicator: 获取K线失败: %w", err)
	}
	if len(candles) < e.period+1 {
		e.logger.Debug("K线数量不足，跳过波动率估算",
			zap.String("pair", pair),
			zap.Int("candles", len(candles)),
		)
		return false, nil
	}

	series := NewSeries(candles)
	atr := talib.Atr(series.High, series.Low, series.Close, e.period)

	lastATR := Last(atr)
	lastClose := Last(series.Close)
	if lastClose <= 0 || math.IsNaN(lastATR) {
		return false, nil
	}

	relative := lastATR / lastClose
	volatile := relative > e.threshold

	e.logger.Debug("波动率估算完成",
		zap.String("pair", pair),
		zap.Float64("atr", lastATR),
		zap.Float64("relative_atr", relative),
		zap.Bool("volatile", volatile),
	)

	return volatile, nil
}
