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

// TWAPExecutor 把一笔大单等分为 N 个切片，在固定时长内均匀执行，
// 逼近区间内的时间加权平均价。每个切片先尝试价差内限价单，
// 未成交部分以市价补足。
type TWAPExecutor struct {
	gateway Gateway
	clock   Clock
	ids     IDSource
	logger  *zap.Logger

	duration     time.Duration
	slices       int
	sliceTimeout time.Duration
	pollInterval time.Duration
	spreadBuffer float64
}

// NewTWAPExecutor 创建TWAP执行器。
func NewTWAPExecutor(gateway Gateway, cfg config.ExecutionConfig, clock Clock, ids IDSource, logger *zap.Logger) *TWAPExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	if ids == nil {
		ids = NewIDSource()
	}
	slices := cfg.TWAPSlices
	if slices <= 0 {
		slices = 10
	}
	return &TWAPExecutor{
		gateway:      gateway,
		clock:        clock,
		ids:          ids,
		logger:       logger,
		duration:     cfg.TWAPDuration,
		slices:       slices,
		sliceTimeout: cfg.SliceTimeout,
		pollInterval: cfg.PollInterval,
		spreadBuffer: cfg.SpreadBuffer,
	}
}

// Execute 执行一次TWAP。切片严格顺序执行，单片失败只记录在该片
// 上，不中断后续切片。
func (e *TWAPExecutor) Execute(ctx context.Context, pair string, side Direction, targetSize float64) TWAPResult {
	result := TWAPResult{
		ParentID:   e.ids.Next("twap"),
		Pair:       pair,
		Side:       side,
		TargetSize: targetSize,
		Slices:     make([]ChildOrder, 0, e.slices),
	}

	// 基准价只在起点记录一次，用于最终的执行质量评估。
	if ticker, err := e.gateway.Ticker(ctx, pair); err == nil {
		result.BenchmarkPrice = ticker.Price
	} else {
		e.logger.Warn("读取基准价失败", zap.String("pair", pair), zap.Error(err))
	}

	interval := e.duration / time.Duration(e.slices)
	sliceSize := targetSize / float64(e.slices)

	var baseTotal float64
	var quoteTotal float64
	var executed float64

	for i := 0; i < e.slices; i++ {
		child := ChildOrder{
			Index:      i,
			TargetSize: sliceSize,
			Status:     ChildPending,
		}

		sliceBase, sliceQuote, orderID, err := e.executeSlice(ctx, pair, side, sliceSize)
		if err != nil {
			child.Status = ChildFailed
			e.logger.Warn("TWAP切片执行失败",
				zap.String("parent_id", result.ParentID),
				zap.Int("slice", i),
				zap.Error(err),
			)
		} else {
			child.OrderID = orderID
			child.Status = ChildFilled
			if side == DirectionSell {
				child.ExecutedSize = sliceBase
			} else {
				child.ExecutedSize = sliceQuote
			}
			if sliceBase > 0 {
				child.FillPrice = sliceQuote / sliceBase
			}
			baseTotal += sliceBase
			quoteTotal += sliceQuote
			executed += child.ExecutedSize
		}
		result.Slices = append(result.Slices, child)

		if i < e.slices-1 {
			if sleepErr := e.clock.Sleep(ctx, interval); sleepErr != nil {
				e.logger.Warn("TWAP执行被中断",
					zap.String("parent_id", result.ParentID),
					zap.Error(sleepErr),
				)
				break
			}
		}
	}

	result.ExecutedSize = executed
	if baseTotal > 0 {
		result.AveragePrice = quoteTotal / baseTotal
	}
	if result.BenchmarkPrice > 0 && result.AveragePrice > 0 {
		result.Slippage = (result.AveragePrice - result.BenchmarkPrice) / result.BenchmarkPrice
	}
	if executed >= targetSize*completionThreshold {
		result.Status = AggregateCompleted
	} else {
		result.Status = AggregatePartial
	}

	e.logger.Info("TWAP执行完成",
		zap.String("parent_id", result.ParentID),
		zap.String("pair", pair),
		zap.Int("slices", len(result.Slices)),
		zap.Float64("target", targetSize),
		zap.Float64("executed", executed),
		zap.Float64("slippage", result.Slippage),
		zap.String("status", string(result.Status)),
	)

	return result
}

// executeSlice 执行单个切片：限价尝试，超时或部分成交后以市价
// 补足本片剩余量。返回本片累计的基础货币量与计价货币量。
func (e *TWAPExecutor) executeSlice(ctx context.Context, pair string, side Direction, size float64) (base float64, quote float64, orderID string, err error) {
	ticker, tickerErr := e.gateway.Ticker(ctx, pair)
	if tickerErr != nil || ticker.Bid <= 0 || ticker.Ask <= 0 {
		// 盘口不可用，本片直接市价。
		return e.marketSlice(ctx, pair, side, size, "")
	}

	spread := ticker.Spread()
	var limitPrice float64
	var ack exchange.OrderAck
	var placeErr error
	if side == DirectionSell {
		limitPrice = ticker.Bid + spread*e.spreadBuffer
		ack, placeErr = e.gateway.LimitSell(ctx, pair, size, limitPrice)
	} else {
		limitPrice = ticker.Ask - spread*e.spreadBuffer
		ack, placeErr = e.gateway.LimitBuy(ctx, pair, size, limitPrice)
	}
	if placeErr != nil || ack.OrderID == "" {
		return e.marketSlice(ctx, pair, side, size, "")
	}
	orderID = ack.OrderID

	status := e.pollSlice(ctx, ack.OrderID)

	filledBase := status.FilledBase
	filledQuote := status.FilledQuote
	price := status.Price
	if price <= 0 {
		price = limitPrice
	}

	if status.State == exchange.OrderFilled {
		if side == DirectionSell {
			if filledBase <= 0 {
				filledBase = size
			}
			if filledQuote <= 0 {
				filledQuote = filledBase * price
			}
		} else {
			if filledQuote <= 0 {
				filledQuote = size
			}
			if filledBase <= 0 {
				filledBase = filledQuote / price
			}
		}
		return filledBase, filledQuote, orderID, nil
	}

	// 未全部成交：撤单后市价补足剩余。
	if cancelErr := e.gateway.CancelOrder(ctx, ack.OrderID); cancelErr != nil {
		e.logger.Warn("撤销切片挂单失败", zap.String("order_id", ack.OrderID), zap.Error(cancelErr))
	}

	if filledBase > 0 && filledQuote <= 0 {
		filledQuote = filledBase * price
	}

	var remainder float64
	if side == DirectionSell {
		remainder = size - filledBase
	} else {
		remainder = size - filledQuote
	}
	if remainder <= 0 {
		return filledBase, filledQuote, orderID, nil
	}

	mBase, mQuote, _, mErr := e.marketSlice(ctx, pair, side, remainder, orderID)
	if mErr != nil {
		if filledBase > 0 {
			// 保留限价腿已成交的部分。
			return filledBase, filledQuote, orderID, nil
		}
		return 0, 0, orderID, mErr
	}
	return filledBase + mBase, filledQuote + mQuote, orderID, nil
}

func (e *TWAPExecutor) marketSlice(ctx context.Context, pair string, side Direction, size float64, orderID string) (float64, float64, string, error) {
	var ack exchange.OrderAck
	var err error
	if side == DirectionSell {
		ack, err = e.gateway.MarketSell(ctx, pair, size)
	} else {
		ack, err = e.gateway.MarketBuy(ctx, pair, size)
	}
	if err != nil {
		return 0, 0, orderID, err
	}
	if orderID == "" {
		orderID = ack.OrderID
	}

	price := ack.Price
	if price <= 0 {
		ticker, tickerErr := e.gateway.Ticker(ctx, pair)
		if tickerErr != nil || ticker.Price <= 0 {
			return 0, 0, orderID, fmt.Errorf("fill price could not be determined")
		}
		price = ticker.Price
	}

	if side == DirectionSell {
		base := ack.FilledBase
		if base <= 0 {
			base = size
		}
		quote := ack.FilledQuote
		if quote <= 0 {
			quote = base * price
		}
		return base, quote, orderID, nil
	}

	quote := ack.FilledQuote
	if quote <= 0 {
		quote = size
	}
	base := ack.FilledBase
	if base <= 0 {
		base = quote / price
	}
	return base, quote, orderID, nil
}

// pollSlice 以共享轮询间隔查询切片订单，直到成交、出现部分成交
// 或超过切片自身的短超时。
func (e *TWAPExecutor) pollSlice(ctx context.Context, orderID string) exchange.OrderStatus {
	deadline := e.clock.Now().Add(e.sliceTimeout)
	var last exchange.OrderStatus

	for e.clock.Now().Before(deadline) {
		if err := e.clock.Sleep(ctx, e.pollInterval); err != nil {
			return last
		}

		status, err := e.gateway.QueryOrder(ctx, orderID)
		if errors.Is(err, exchange.ErrQueryUnsupported) {
			continue
		}
		if err != nil {
			e.logger.Warn("查询切片订单失败", zap.String("order_id", orderID), zap.Error(err))
			return last
		}

		last = status
		switch status.State {
		case exchange.OrderFilled:
			return status
		case exchange.OrderPartial:
			if status.FilledBase > 0 {
				return status
			}
		case exchange.OrderCanceled:
			return status
		}
	}

	return last
}
