package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
	"kraken-trader/internal/execution"
	"kraken-trader/internal/indicator"
	"kraken-trader/internal/monitor"
	"kraken-trader/internal/position"
	"kraken-trader/internal/store"
)

// snapshotSource 抽象行情快照获取，便于测试替换。
type snapshotSource interface {
	GetSnapshot(ctx context.Context, pair string, bookDepth int, candleLimit int) (exchange.MarketSnapshot, error)
}

// orchestrator 串联计划队列与执行引擎：每次 Tick 取出待执行计划，
// 交给引擎顺序执行，并把结果与涉及交易对的行情快照写入监控事件表。
type orchestrator struct {
	engine    *execution.Engine
	market    *execution.MarketExecutor
	limit     *execution.LimitExecutor
	queue     *store.PlanQueue
	monitor   *monitor.Service
	snapshots snapshotSource
	bookDepth int
	logger    *zap.Logger
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	marketData := exchange.NewMarketDataService(client, logger)

	tracker, err := position.NewTracker(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化持仓跟踪失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	queue, err := store.NewPlanQueue(st)
	if err != nil {
		return nil, fmt.Errorf("初始化计划队列失败: %w", err)
	}

	clock := execution.NewClock()
	ids := execution.NewIDSource()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	marketExec := execution.NewMarketExecutor(client, tracker, cfg.Execution, clock, logger)
	limitExec := execution.NewLimitExecutor(client, tracker, marketExec, cfg.Execution, clock, logger)
	splitter := execution.NewSplitter(client, cfg.Execution, clock, rng, ids, logger)
	twap := execution.NewTWAPExecutor(client, cfg.Execution, clock, ids, logger)
	estimator := indicator.NewVolatilityEstimator(marketData, cfg.Router.VolatilityThreshold, logger)

	router := execution.NewRouter(client, tracker, marketExec, limitExec, splitter, twap, estimator, cfg.Router, clock, logger)
	engine := execution.NewEngine(client, router, clock, logger)

	return &orchestrator{
		engine:    engine,
		market:    marketExec,
		limit:     limitExec,
		queue:     queue,
		monitor:   monitorSvc,
		snapshots: marketData,
		bookDepth: cfg.Execution.BookDepth,
		logger:    logger,
	}, nil
}

// Tick 处理队列中全部待执行计划。单个计划的失败不终止本轮，
// 只记录事件并标记状态。
func (o *orchestrator) Tick(ctx context.Context) error {
	pending, err := o.queue.Pending(ctx)
	if err != nil {
		o.monitor.RecordError(ctx, "读取计划队列失败", err, nil)
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	o.logger.Info("开始处理待执行计划", zap.Int("count", len(pending)))

	pairs := make(map[string]struct{})

	for _, item := range pending {
		var plan execution.TradingPlan
		if err := json.Unmarshal(item.Payload, &plan); err != nil {
			o.monitor.RecordError(ctx, "解析交易计划失败", err, map[string]interface{}{"plan_id": item.ID})
			o.markFinished(ctx, item.ID, store.PlanFailed)
			continue
		}
		if plan.ID == "" {
			plan.ID = item.ID
		}
		for _, intent := range plan.Intents {
			pairs[intent.Pair] = struct{}{}
		}

		report := o.engine.ExecutePlan(ctx, plan)
		o.monitor.RecordReport(ctx, report)

		status := store.PlanDone
		if len(report.Successful()) == 0 && len(report.Trades) > 0 {
			status = store.PlanFailed
		}
		o.markFinished(ctx, item.ID, status)
	}

	o.recordSnapshots(ctx, pairs)
	o.monitor.RecordStats(ctx, "market", o.market.Stats())
	o.monitor.RecordStats(ctx, "limit", o.limit.Stats())
	return nil
}

// recordSnapshots 为本轮涉及的每个交易对留存一份行情快照。
// 快照失败只记事件，不影响本轮结果。
func (o *orchestrator) recordSnapshots(ctx context.Context, pairs map[string]struct{}) {
	if o.snapshots == nil {
		return
	}
	for pair := range pairs {
		if pair == "" {
			continue
		}
		snapshot, err := o.snapshots.GetSnapshot(ctx, pair, o.bookDepth, 0)
		if err != nil {
			o.monitor.RecordError(ctx, "获取行情快照失败", err, map[string]interface{}{"pair": pair})
			continue
		}
		o.monitor.RecordMarketSnapshot(ctx, snapshot)
	}
}

func (o *orchestrator) markFinished(ctx context.Context, id string, status store.PlanStatus) {
	if err := o.queue.MarkFinished(ctx, id, status); err != nil {
		o.logger.Warn("更新计划状态失败",
			zap.String("plan_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
