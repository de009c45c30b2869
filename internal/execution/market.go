package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
)

// MarketExecutor 以单笔市价单执行一个交易意图，是所有复杂策略的
// 最终回退路径。
type MarketExecutor struct {
	gateway Gateway
	tracker PositionTracker
	clock   Clock
	logger  *zap.Logger
	stats   *Stats

	minOrderQuote float64
}

// NewMarketExecutor 创建市价执行器。
func NewMarketExecutor(gateway Gateway, tracker PositionTracker, cfg config.ExecutionConfig, clock Clock, logger *zap.Logger) *MarketExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	return &MarketExecutor{
		gateway:       gateway,
		tracker:       tracker,
		clock:         clock,
		logger:        logger,
		stats:         NewStats(),
		minOrderQuote: cfg.MinOrderQuote,
	}
}

// Stats 返回累计执行统计。
func (e *MarketExecutor) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Execute 执行单个交易意图并返回交易记录。任何交易所异常都被
// 限制在本条记录内，不向调用方传播。
func (e *MarketExecutor) Execute(ctx context.Context, intent TradeIntent, avail Balances) Trade {
	trade := Trade{
		Pair:      intent.Pair,
		Direction: intent.Direction,
		OrderType: StrategyMarket,
		Status:    StatusPending,
		Reasoning: intent.Reasoning,
		DecidedAt: e.clock.Now(),
	}

	switch intent.Direction {
	case DirectionBuy:
		e.executeBuy(ctx, intent, avail, &trade)
	case DirectionSell:
		e.executeSell(ctx, intent, avail, &trade)
	default:
		trade.Status = StatusRejected
		trade.ErrorMessage = fmt.Sprintf("nothing to execute for direction %s", intent.Direction)
	}

	return trade
}

func (e *MarketExecutor) executeBuy(ctx context.Context, intent TradeIntent, avail Balances, trade *Trade) {
	quoteAmount := avail.Quote(intent.Pair) * intent.SizePct
	trade.RequestedQuote = quoteAmount

	if quoteAmount < e.minOrderQuote {
		trade.Status = StatusRejected
		trade.ErrorMessage = fmt.Sprintf("order size too small: %.2f below minimum %.2f", quoteAmount, e.minOrderQuote)
		return
	}

	trade.SubmittedAt = e.clock.Now()
	trade.Status = StatusSubmitted

	ack, err := e.gateway.MarketBuy(ctx, intent.Pair, quoteAmount)
	if err != nil {
		trade.Status = StatusFailed
		trade.ErrorMessage = err.Error()
		return
	}
	e.stats.recordMarketOrder()
	trade.OrderID = ack.OrderID
	trade.Fee = ack.Fee

	price := e.resolvePrice(ctx, intent.Pair, ack)
	if price <= 0 {
		trade.Status = StatusFailed
		trade.ErrorMessage = "fill price could not be determined"
		return
	}

	filledQuote := ack.FilledQuote
	if filledQuote <= 0 {
		filledQuote = quoteAmount
	}

	trade.AveragePrice = price
	trade.FilledQuote = filledQuote
	trade.FilledBase = filledQuote / price
	trade.Status = StatusFilled
	trade.FilledAt = e.clock.Now()

	e.updateEntry(ctx, intent.Pair, price, trade.FilledBase)
	e.record(ctx, *trade)
}

func (e *MarketExecutor) executeSell(ctx context.Context, intent TradeIntent, avail Balances, trade *Trade) {
	baseAmount := avail.Base(intent.Pair)
	trade.RequestedBase = baseAmount

	asset := BaseAsset(intent.Pair)
	if baseAmount <= 0 {
		trade.Status = StatusRejected
		trade.ErrorMessage = fmt.Sprintf("no %s position to sell", asset)
		return
	}

	entryPrice, err := e.tracker.EntryPrice(ctx, asset)
	if err != nil {
		e.logger.Warn("读取持仓成本失败", zap.String("asset", asset), zap.Error(err))
		entryPrice = 0
	}

	trade.SubmittedAt = e.clock.Now()
	trade.Status = StatusSubmitted

	ack, err := e.gateway.MarketSell(ctx, intent.Pair, baseAmount)
	if err != nil {
		trade.Status = StatusFailed
		trade.ErrorMessage = err.Error()
		return
	}
	e.stats.recordMarketOrder()
	trade.OrderID = ack.OrderID
	trade.Fee = ack.Fee

	price := e.resolvePrice(ctx, intent.Pair, ack)
	if price <= 0 {
		trade.Status = StatusFailed
		trade.ErrorMessage = "fill price could not be determined"
		return
	}

	filledBase := ack.FilledBase
	if filledBase <= 0 {
		filledBase = baseAmount
	}

	trade.AveragePrice = price
	trade.FilledBase = filledBase
	trade.FilledQuote = filledBase * price
	trade.ExitPrice = price
	trade.Status = StatusFilled
	trade.FilledAt = e.clock.Now()

	if entryPrice > 0 {
		trade.EntryPrice = entryPrice
		trade.RealizedPnL = (price - entryPrice) * filledBase
		trade.NetPnL = trade.RealizedPnL - trade.Fee
	}

	if err := e.tracker.ClearEntryPrice(ctx, asset); err != nil {
		e.logger.Warn("清除持仓成本失败", zap.String("asset", asset), zap.Error(err))
	}
	e.record(ctx, *trade)
}

// fill 为其他策略提供的裸市价成交原语，按方向以计价或基础货币
// 计量 amount，返回成交量与成交价。
func (e *MarketExecutor) fill(ctx context.Context, pair string, direction Direction, amount float64) (exchange.OrderAck, float64, error) {
	var (
		ack exchange.OrderAck
		err error
	)

	switch direction {
	case DirectionBuy:
		ack, err = e.gateway.MarketBuy(ctx, pair, amount)
	case DirectionSell:
		ack, err = e.gateway.MarketSell(ctx, pair, amount)
	default:
		return exchange.OrderAck{}, 0, fmt.Errorf("unsupported direction %s", direction)
	}
	if err != nil {
		return exchange.OrderAck{}, 0, err
	}
	e.stats.recordMarketOrder()

	price := e.resolvePrice(ctx, pair, ack)
	if price <= 0 {
		return ack, 0, fmt.Errorf("fill price could not be determined")
	}
	return ack, price, nil
}

func (e *MarketExecutor) resolvePrice(ctx context.Context, pair string, ack exchange.OrderAck) float64 {
	if ack.Price > 0 {
		return ack.Price
	}
	ticker, err := e.gateway.Ticker(ctx, pair)
	if err != nil {
		e.logger.Warn("补读行情失败", zap.String("pair", pair), zap.Error(err))
		return 0
	}
	return ticker.Price
}

func (e *MarketExecutor) updateEntry(ctx context.Context, pair string, price float64, amount float64) {
	asset := BaseAsset(pair)
	if err := e.tracker.SetEntryPrice(ctx, asset, price, amount); err != nil {
		e.logger.Warn("更新持仓成本失败", zap.String("asset", asset), zap.Error(err))
	}
}

func (e *MarketExecutor) record(ctx context.Context, trade Trade) {
	if err := e.tracker.RecordTrade(ctx, trade); err != nil {
		e.logger.Warn("持久化交易记录失败", zap.String("pair", trade.Pair), zap.Error(err))
	}
}
