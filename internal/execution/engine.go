package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Engine 驱动整个交易计划的执行：意图严格逐个执行，前一笔的
// 成交结果先入账再计算下一笔买入的可用资金。这一顺序约束是
// 设计保证，并发执行会导致超支。
type Engine struct {
	gateway Gateway
	router  *Router
	clock   Clock
	logger  *zap.Logger
}

// NewEngine 创建计划执行引擎。
func NewEngine(gateway Gateway, router *Router, clock Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Engine{
		gateway: gateway,
		router:  router,
		clock:   clock,
		logger:  logger,
	}
}

// ExecutePlan 执行一个已批准的交易计划并返回执行报告。单个意图
// 的任何失败都不会中断计划中的其余意图。
func (e *Engine) ExecutePlan(ctx context.Context, plan TradingPlan) ExecutionReport {
	report := ExecutionReport{
		PlanID:    plan.ID,
		Trades:    make([]Trade, 0, len(plan.Intents)),
		StartedAt: e.clock.Now(),
	}

	raw, err := e.gateway.Balances(ctx)
	if err != nil {
		e.logger.Error("获取账户余额失败，计划无法执行",
			zap.String("plan_id", plan.ID),
			zap.Error(err),
		)
		for _, intent := range plan.Intents {
			report.Trades = append(report.Trades, Trade{
				Pair:         intent.Pair,
				Direction:    intent.Direction,
				Status:       StatusFailed,
				ErrorMessage: fmt.Sprintf("balance unavailable: %v", err),
				DecidedAt:    e.clock.Now(),
			})
		}
		report.FinishedAt = e.clock.Now()
		return report
	}

	avail := Balances(raw).Clone()

	for _, intent := range plan.Intents {
		outcome := e.router.Route(ctx, intent, avail)
		trade := outcome.Trade

		if trade.Status.Successful() {
			e.debit(avail, trade)
		}

		report.Trades = append(report.Trades, trade)

		e.logger.Info("交易意图执行完成",
			zap.String("plan_id", plan.ID),
			zap.String("pair", intent.Pair),
			zap.String("direction", string(intent.Direction)),
			zap.String("strategy", string(outcome.Strategy)),
			zap.String("status", string(trade.Status)),
			zap.Float64("filled_quote", trade.FilledQuote),
			zap.Float64("average_price", trade.AveragePrice),
			zap.Duration("latency", trade.Latency()),
		)
	}

	report.FinishedAt = e.clock.Now()

	e.logger.Info("交易计划执行完毕",
		zap.String("plan_id", plan.ID),
		zap.Int("total", len(report.Trades)),
		zap.Int("successful", len(report.Successful())),
		zap.Int("failed", len(report.Failed())),
		zap.Float64("executed_quote_volume", report.ExecutedQuoteVolume()),
	)

	return report
}

// debit 把成交结果计入可用余额，供后续意图的资金计算使用。
func (e *Engine) debit(avail Balances, trade Trade) {
	base := BaseAsset(trade.Pair)
	quote := QuoteAsset(trade.Pair)

	switch trade.Direction {
	case DirectionBuy:
		avail[quote] -= trade.FilledQuote
		if avail[quote] < 0 {
			avail[quote] = 0
		}
		avail[base] += trade.FilledBase
	case DirectionSell:
		avail[base] -= trade.FilledBase
		if avail[base] < 0 {
			avail[base] = 0
		}
		avail[quote] += trade.FilledQuote
	}
}
