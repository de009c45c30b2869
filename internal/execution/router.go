package execution

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kraken-trader/internal/config"
)

// VolatilityEstimator 在行情缺少24小时高低价时提供波动率判断。
type VolatilityEstimator interface {
	Volatile(ctx context.Context, pair string) (bool, error)
}

// Router 按名义价值与当前波动率为每个交易意图选择执行策略，
// 并把各策略的结果归一化为统一形态。自身无状态，仅维护
// 各策略的分发计数供运维观察。
type Router struct {
	gateway   Gateway
	tracker   PositionTracker
	market    *MarketExecutor
	limit     *LimitExecutor
	splitter  *Splitter
	twap      *TWAPExecutor
	estimator VolatilityEstimator
	clock     Clock
	logger    *zap.Logger
	cfg       config.RouterConfig

	mu         sync.Mutex
	dispatched map[Strategy]uint64
}

// NewRouter 创建执行路由器。estimator 可为nil，此时仅依赖行情自带
// 的24小时区间判断波动。
func NewRouter(gateway Gateway, tracker PositionTracker, market *MarketExecutor, limit *LimitExecutor, splitter *Splitter, twap *TWAPExecutor, estimator VolatilityEstimator, cfg config.RouterConfig, clock Clock, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Router{
		gateway:    gateway,
		tracker:    tracker,
		market:     market,
		limit:      limit,
		splitter:   splitter,
		twap:       twap,
		estimator:  estimator,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		dispatched: make(map[Strategy]uint64),
	}
}

// Classify 是策略分类的纯函数：波动行情一律市价，否则按名义价值
// 分档。大额订单优先TWAP，其次拆单，两者都关闭时退回市价。
func Classify(orderValue float64, volatile bool, cfg config.RouterConfig) Strategy {
	if volatile {
		return StrategyMarket
	}
	switch {
	case orderValue < cfg.SmallOrderThreshold:
		return StrategyMarket
	case orderValue < cfg.MediumOrderThreshold:
		return StrategyLimit
	case cfg.EnableTWAP:
		return StrategyTWAP
	case cfg.EnableSplitting:
		return StrategySplit
	default:
		return StrategyMarket
	}
}

// Counters 返回各策略的分发计数。
func (r *Router) Counters() map[Strategy]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Strategy]uint64, len(r.dispatched))
	for k, v := range r.dispatched {
		out[k] = v
	}
	return out
}

func (r *Router) count(strategy Strategy) {
	r.mu.Lock()
	r.dispatched[strategy]++
	r.mu.Unlock()
}

// Route 为单个交易意图选择并驱动执行策略。
func (r *Router) Route(ctx context.Context, intent TradeIntent, avail Balances) StrategyOutcome {
	if intent.Direction == DirectionHold {
		trade := Trade{
			Pair:         intent.Pair,
			Direction:    intent.Direction,
			Status:       StatusRejected,
			ErrorMessage: "nothing to execute for direction HOLD",
			DecidedAt:    r.clock.Now(),
		}
		return StrategyOutcome{Pair: intent.Pair, Status: StatusRejected, Trade: trade}
	}

	value, volatile := r.assess(ctx, intent, avail)
	strategy := Classify(value, volatile, r.cfg)
	r.count(strategy)

	r.logger.Debug("策略路由",
		zap.String("pair", intent.Pair),
		zap.String("direction", string(intent.Direction)),
		zap.Float64("order_value", value),
		zap.Bool("volatile", volatile),
		zap.String("strategy", string(strategy)),
	)

	switch strategy {
	case StrategyLimit:
		trade := r.limit.Execute(ctx, intent, avail)
		return outcomeFromTrade(StrategyLimit, trade)

	case StrategyTWAP:
		size := r.targetSize(intent, avail)
		result := r.twap.Execute(ctx, intent.Pair, intent.Direction, size)
		trade := r.tradeFromAggregate(intent, StrategyTWAP, result.ParentID, size, result.ExecutedSize, result.AveragePrice, result.Status)
		r.settleAggregate(ctx, intent, &trade)
		outcome := outcomeFromTrade(StrategyTWAP, trade)
		outcome.Metadata = map[string]interface{}{
			"parent_id":       result.ParentID,
			"slice_count":     len(result.Slices),
			"benchmark_price": result.BenchmarkPrice,
			"slippage":        result.Slippage,
		}
		return outcome

	case StrategySplit:
		size := r.targetSize(intent, avail)
		result := r.splitter.Execute(ctx, intent.Pair, intent.Direction, size)
		trade := r.tradeFromAggregate(intent, StrategySplit, result.ParentID, size, result.ExecutedSize, result.AveragePrice, result.Status)
		r.settleAggregate(ctx, intent, &trade)
		outcome := outcomeFromTrade(StrategySplit, trade)
		outcome.Metadata = map[string]interface{}{
			"parent_id":   result.ParentID,
			"chunk_count": len(result.Children),
		}
		return outcome

	default:
		trade := r.market.Execute(ctx, intent, avail)
		return outcomeFromTrade(StrategyMarket, trade)
	}
}

// assess 估算订单名义价值并判断当前波动状态。
func (r *Router) assess(ctx context.Context, intent TradeIntent, avail Balances) (float64, bool) {
	var value float64
	if intent.Direction == DirectionBuy {
		value = avail.Quote(intent.Pair) * intent.SizePct
	}

	ticker, err := r.gateway.Ticker(ctx, intent.Pair)
	if err != nil {
		r.logger.Warn("读取行情失败，按市价分类", zap.String("pair", intent.Pair), zap.Error(err))
		return value, false
	}

	if intent.Direction == DirectionSell {
		value = avail.Base(intent.Pair) * ticker.Price
	}

	if ticker.High24h > 0 && ticker.Low24h > 0 {
		rangePct := (ticker.High24h - ticker.Low24h) / ticker.Low24h
		return value, rangePct > r.cfg.VolatilityThreshold
	}

	if r.estimator != nil {
		volatile, estErr := r.estimator.Volatile(ctx, intent.Pair)
		if estErr != nil {
			r.logger.Warn("波动率估计失败", zap.String("pair", intent.Pair), zap.Error(estErr))
			return value, false
		}
		return value, volatile
	}

	return value, false
}

// targetSize 返回多子订单策略的目标量：买入以计价货币计，
// 卖出以基础货币计。
func (r *Router) targetSize(intent TradeIntent, avail Balances) float64 {
	if intent.Direction == DirectionSell {
		return avail.Base(intent.Pair)
	}
	return avail.Quote(intent.Pair) * intent.SizePct
}

// tradeFromAggregate 把多子订单执行结果折叠为单条交易记录。
func (r *Router) tradeFromAggregate(intent TradeIntent, strategy Strategy, parentID string, target float64, executed float64, avgPrice float64, status AggregateStatus) Trade {
	trade := Trade{
		Pair:         intent.Pair,
		Direction:    intent.Direction,
		OrderType:    strategy,
		OrderID:      parentID,
		Reasoning:    intent.Reasoning,
		AveragePrice: avgPrice,
		DecidedAt:    r.clock.Now(),
	}

	if intent.Direction == DirectionSell {
		trade.RequestedBase = target
		trade.FilledBase = executed
		trade.FilledQuote = executed * avgPrice
	} else {
		trade.RequestedQuote = target
		trade.FilledQuote = executed
		if avgPrice > 0 {
			trade.FilledBase = executed / avgPrice
		}
	}

	switch {
	case executed <= 0:
		trade.Status = StatusFailed
		trade.ErrorMessage = fmt.Sprintf("%s execution produced no fills", strategy)
	case status == AggregateCompleted:
		trade.Status = StatusFilled
		trade.FilledAt = r.clock.Now()
	default:
		trade.Status = StatusPartiallyFilled
		trade.FilledAt = r.clock.Now()
	}

	return trade
}

// settleAggregate 为多子订单策略的成交完成持仓记账，
// 与基础执行器保持同一份口径。
func (r *Router) settleAggregate(ctx context.Context, intent TradeIntent, trade *Trade) {
	if !trade.Status.Successful() {
		return
	}

	asset := BaseAsset(intent.Pair)
	switch intent.Direction {
	case DirectionBuy:
		if trade.FilledBase > 0 && trade.AveragePrice > 0 {
			if err := r.tracker.SetEntryPrice(ctx, asset, trade.AveragePrice, trade.FilledBase); err != nil {
				r.logger.Warn("更新持仓成本失败", zap.String("asset", asset), zap.Error(err))
			}
		}
	case DirectionSell:
		entryPrice, err := r.tracker.EntryPrice(ctx, asset)
		if err != nil {
			r.logger.Warn("读取持仓成本失败", zap.String("asset", asset), zap.Error(err))
		} else if entryPrice > 0 {
			trade.EntryPrice = entryPrice
			trade.ExitPrice = trade.AveragePrice
			trade.RealizedPnL = (trade.AveragePrice - entryPrice) * trade.FilledBase
			trade.NetPnL = trade.RealizedPnL - trade.Fee
		}
		if err := r.tracker.ClearEntryPrice(ctx, asset); err != nil {
			r.logger.Warn("清除持仓成本失败", zap.String("asset", asset), zap.Error(err))
		}
	}

	if err := r.tracker.RecordTrade(ctx, *trade); err != nil {
		r.logger.Warn("持久化交易记录失败", zap.String("pair", trade.Pair), zap.Error(err))
	}
}

func outcomeFromTrade(strategy Strategy, trade Trade) StrategyOutcome {
	return StrategyOutcome{
		Pair:     trade.Pair,
		Strategy: strategy,
		Status:   trade.Status,
		Price:    trade.AveragePrice,
		Trade:    trade,
	}
}
