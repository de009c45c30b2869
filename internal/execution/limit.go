package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
)

// LimitExecutor 在买卖价差内侧挂限价单，轮询成交并在超时或部分
// 成交时回退到市价执行。状态机：挂单 → 轮询 → {全部成交 |
// 部分成交+市价补单 | 超时撤单+市价回退}。
type LimitExecutor struct {
	gateway Gateway
	tracker PositionTracker
	market  *MarketExecutor
	clock   Clock
	logger  *zap.Logger
	stats   *Stats

	minOrderQuote float64
	spreadBuffer  float64
	pollInterval  time.Duration
	limitTimeout  time.Duration
}

// NewLimitExecutor 创建限价执行器，market 为回退路径。
func NewLimitExecutor(gateway Gateway, tracker PositionTracker, market *MarketExecutor, cfg config.ExecutionConfig, clock Clock, logger *zap.Logger) *LimitExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	return &LimitExecutor{
		gateway:       gateway,
		tracker:       tracker,
		market:        market,
		clock:         clock,
		logger:        logger,
		stats:         NewStats(),
		minOrderQuote: cfg.MinOrderQuote,
		spreadBuffer:  cfg.SpreadBuffer,
		pollInterval:  cfg.PollInterval,
		limitTimeout:  cfg.LimitTimeout,
	}
}

// Stats 返回累计执行统计。
func (e *LimitExecutor) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Execute 以限价策略执行交易意图。所有异常路径均回退到市价
// 执行器，不会让意图因限价机制本身而失败。
func (e *LimitExecutor) Execute(ctx context.Context, intent TradeIntent, avail Balances) Trade {
	trade := Trade{
		Pair:      intent.Pair,
		Direction: intent.Direction,
		OrderType: StrategyLimit,
		Status:    StatusPending,
		Reasoning: intent.Reasoning,
		DecidedAt: e.clock.Now(),
	}

	var requested float64
	switch intent.Direction {
	case DirectionBuy:
		requested = avail.Quote(intent.Pair) * intent.SizePct
		trade.RequestedQuote = requested
		if requested < e.minOrderQuote {
			trade.Status = StatusRejected
			trade.ErrorMessage = fmt.Sprintf("order size too small: %.2f below minimum %.2f", requested, e.minOrderQuote)
			return trade
		}
	case DirectionSell:
		requested = avail.Base(intent.Pair)
		trade.RequestedBase = requested
		if requested <= 0 {
			trade.Status = StatusRejected
			trade.ErrorMessage = fmt.Sprintf("no %s position to sell", BaseAsset(intent.Pair))
			return trade
		}
	default:
		trade.Status = StatusRejected
		trade.ErrorMessage = fmt.Sprintf("nothing to execute for direction %s", intent.Direction)
		return trade
	}

	ticker, err := e.gateway.Ticker(ctx, intent.Pair)
	if err != nil || ticker.Bid <= 0 || ticker.Ask <= 0 {
		return e.fallbackMarket(ctx, intent, avail, "bid/ask unavailable, fell back to market")
	}

	limitPrice := e.limitPrice(intent.Direction, ticker)

	var ack exchange.OrderAck
	switch intent.Direction {
	case DirectionBuy:
		ack, err = e.gateway.LimitBuy(ctx, intent.Pair, requested, limitPrice)
	case DirectionSell:
		ack, err = e.gateway.LimitSell(ctx, intent.Pair, requested, limitPrice)
	}
	if err != nil {
		e.logger.Warn("限价挂单失败，回退市价",
			zap.String("pair", intent.Pair),
			zap.Float64("limit_price", limitPrice),
			zap.Error(err),
		)
		return e.fallbackMarket(ctx, intent, avail, "limit placement failed, fell back to market")
	}
	if ack.OrderID == "" {
		// 无法提取订单号视为静默下单失败。
		e.logger.Warn("限价回执缺少订单号，回退市价", zap.String("pair", intent.Pair))
		return e.fallbackMarket(ctx, intent, avail, "no order id in limit response, fell back to market")
	}

	e.stats.recordLimitOrder()
	trade.OrderID = ack.OrderID
	trade.Status = StatusSubmitted
	trade.SubmittedAt = e.clock.Now()

	status, outcome, pollErr := e.poll(ctx, ack.OrderID)
	switch outcome {
	case pollFilled:
		e.completeFill(ctx, intent, &trade, status, limitPrice, requested)
		return trade

	case pollPartial:
		e.mergePartial(ctx, intent, &trade, status, limitPrice, requested)
		return trade

	case pollTimeout:
		e.stats.recordLimitTimeout()
		if cancelErr := e.gateway.CancelOrder(ctx, ack.OrderID); cancelErr != nil {
			e.logger.Warn("撤销超时挂单失败",
				zap.String("order_id", ack.OrderID),
				zap.Error(cancelErr),
			)
		}
		trade.Status = StatusTimedOut
		return e.fallbackMarket(ctx, intent, avail, "limit order timed out, fell back to market")

	default:
		e.logger.Warn("轮询订单状态失败，回退市价",
			zap.String("order_id", ack.OrderID),
			zap.Error(pollErr),
		)
		return e.fallbackMarket(ctx, intent, avail, "order polling failed, fell back to market")
	}
}

// limitPrice 按价差内侧定价：买单压在卖一之下，卖单抬在买一之上。
func (e *LimitExecutor) limitPrice(direction Direction, ticker exchange.Ticker) float64 {
	spread := ticker.Spread()
	if direction == DirectionBuy {
		return ticker.Ask - spread*e.spreadBuffer
	}
	return ticker.Bid + spread*e.spreadBuffer
}

type pollOutcome int

const (
	pollFilled pollOutcome = iota
	pollPartial
	pollTimeout
	pollFailed
)

// poll 以固定间隔轮询订单状态，直到全部成交、出现非零部分成交
// 或超过截止时间。轮询间通过时钟挂起，不忙等。
func (e *LimitExecutor) poll(ctx context.Context, orderID string) (exchange.OrderStatus, pollOutcome, error) {
	deadline := e.clock.Now().Add(e.limitTimeout)
	var last exchange.OrderStatus

	for e.clock.Now().Before(deadline) {
		if err := e.clock.Sleep(ctx, e.pollInterval); err != nil {
			return last, pollFailed, err
		}

		status, err := e.gateway.QueryOrder(ctx, orderID)
		if errors.Is(err, exchange.ErrQueryUnsupported) {
			// 无查询能力时退化为超时前视为挂单中。
			continue
		}
		if err != nil {
			return last, pollFailed, err
		}

		last = status
		switch status.State {
		case exchange.OrderFilled:
			return status, pollFilled, nil
		case exchange.OrderPartial:
			if status.FilledBase > 0 {
				return status, pollPartial, nil
			}
		case exchange.OrderCanceled:
			if status.FilledBase > 0 {
				return status, pollPartial, nil
			}
			return status, pollFailed, fmt.Errorf("order %s canceled externally", orderID)
		}
	}

	return last, pollTimeout, nil
}

// completeFill 记录限价单全部成交。
func (e *LimitExecutor) completeFill(ctx context.Context, intent TradeIntent, trade *Trade, status exchange.OrderStatus, limitPrice float64, requested float64) {
	price := status.Price
	if price <= 0 {
		price = limitPrice
	}

	filledBase := status.FilledBase
	filledQuote := status.FilledQuote
	switch intent.Direction {
	case DirectionBuy:
		if filledQuote <= 0 {
			filledQuote = requested
		}
		if filledBase <= 0 {
			filledBase = filledQuote / price
		}
	case DirectionSell:
		if filledBase <= 0 {
			filledBase = requested
		}
		if filledQuote <= 0 {
			filledQuote = filledBase * price
		}
	}

	trade.AveragePrice = price
	trade.FilledBase = filledBase
	trade.FilledQuote = filledQuote
	trade.Status = StatusFilled
	trade.FilledAt = e.clock.Now()

	e.stats.recordLimitFill()
	if limitPrice > 0 {
		e.stats.recordSlippage((price - limitPrice) / limitPrice)
	}

	e.settle(ctx, intent, trade)
}

// mergePartial 把限价单的部分成交与市价补单合并为一条成交记录。
// 合并均价按两腿成交量加权（见 DESIGN.md 对参考实现差异的说明）。
func (e *LimitExecutor) mergePartial(ctx context.Context, intent TradeIntent, trade *Trade, status exchange.OrderStatus, limitPrice float64, requested float64) {
	e.stats.recordPartialFill()

	price := status.Price
	if price <= 0 {
		price = limitPrice
	}

	partialBase := status.FilledBase
	partialQuote := status.FilledQuote
	if partialQuote <= 0 {
		partialQuote = partialBase * price
	}

	trade.Status = StatusPartiallyFilled
	trade.AveragePrice = price
	trade.FilledBase = partialBase
	trade.FilledQuote = partialQuote

	var remainder float64
	if intent.Direction == DirectionBuy {
		remainder = requested - partialQuote
	} else {
		remainder = requested - partialBase
	}
	if remainder <= 0 {
		// 剩余量为零即视为全部成交。
		trade.Status = StatusFilled
		trade.FilledAt = e.clock.Now()
		e.settle(ctx, intent, trade)
		return
	}

	ack, fillPrice, err := e.market.fill(ctx, intent.Pair, intent.Direction, remainder)
	if err != nil {
		e.logger.Warn("部分成交补单失败",
			zap.String("pair", intent.Pair),
			zap.Float64("remainder", remainder),
			zap.Error(err),
		)
		// 保留已成交部分，补单失败不吞掉限价腿。
		trade.FilledAt = e.clock.Now()
		trade.ErrorMessage = fmt.Sprintf("remainder market order failed: %v", err)
		e.settle(ctx, intent, trade)
		return
	}

	var legBase, legQuote float64
	if intent.Direction == DirectionBuy {
		legQuote = ack.FilledQuote
		if legQuote <= 0 {
			legQuote = remainder
		}
		legBase = ack.FilledBase
		if legBase <= 0 {
			legBase = legQuote / fillPrice
		}
	} else {
		legBase = ack.FilledBase
		if legBase <= 0 {
			legBase = remainder
		}
		legQuote = ack.FilledQuote
		if legQuote <= 0 {
			legQuote = legBase * fillPrice
		}
	}

	trade.FilledBase += legBase
	trade.FilledQuote += legQuote
	trade.Fee += ack.Fee
	if trade.FilledBase > 0 {
		trade.AveragePrice = trade.FilledQuote / trade.FilledBase
	}
	trade.Status = StatusFilled
	trade.FilledAt = e.clock.Now()

	e.settle(ctx, intent, trade)
}

// settle 在成交后完成持仓记账：买入更新加权成本，卖出计算已实现
// 盈亏并清除成本。记账失败不影响交易记录。
func (e *LimitExecutor) settle(ctx context.Context, intent TradeIntent, trade *Trade) {
	asset := BaseAsset(intent.Pair)

	switch intent.Direction {
	case DirectionBuy:
		if trade.FilledBase > 0 && trade.AveragePrice > 0 {
			if err := e.tracker.SetEntryPrice(ctx, asset, trade.AveragePrice, trade.FilledBase); err != nil {
				e.logger.Warn("更新持仓成本失败", zap.String("asset", asset), zap.Error(err))
			}
		}
	case DirectionSell:
		entryPrice, err := e.tracker.EntryPrice(ctx, asset)
		if err != nil {
			e.logger.Warn("读取持仓成本失败", zap.String("asset", asset), zap.Error(err))
		} else if entryPrice > 0 {
			trade.EntryPrice = entryPrice
			trade.ExitPrice = trade.AveragePrice
			trade.RealizedPnL = (trade.AveragePrice - entryPrice) * trade.FilledBase
			trade.NetPnL = trade.RealizedPnL - trade.Fee
		}
		if err := e.tracker.ClearEntryPrice(ctx, asset); err != nil {
			e.logger.Warn("清除持仓成本失败", zap.String("asset", asset), zap.Error(err))
		}
	}

	if err := e.tracker.RecordTrade(ctx, *trade); err != nil {
		e.logger.Warn("持久化交易记录失败", zap.String("pair", trade.Pair), zap.Error(err))
	}
}

func (e *LimitExecutor) fallbackMarket(ctx context.Context, intent TradeIntent, avail Balances, note string) Trade {
	e.stats.recordMarketFallback()
	trade := e.market.Execute(ctx, intent, avail)
	if trade.Reasoning != "" {
		trade.Reasoning += "; " + note
	} else {
		trade.Reasoning = note
	}
	return trade
}
