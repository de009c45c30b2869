package execution

import (
	"context"
	"math/rand"
	"testing"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
)

type fakeEstimator struct {
	volatile bool
	err      error
	calls    int
}

func (f *fakeEstimator) Volatile(ctx context.Context, pair string) (bool, error) {
	f.calls++
	return f.volatile, f.err
}

func newTestRouter(gw *fakeGateway, estimator VolatilityEstimator, cfg config.RouterConfig) (*Router, *fakeTracker) {
	tracker := newFakeTracker()
	clock := newFakeClock()
	execCfg := testExecutionConfig()
	market := NewMarketExecutor(gw, tracker, execCfg, clock, nil)
	limit := NewLimitExecutor(gw, tracker, market, execCfg, clock, nil)
	splitter := NewSplitter(gw, execCfg, clock, rand.New(rand.NewSource(1)), NewIDSource(), nil)
	twap := NewTWAPExecutor(gw, execCfg, clock, NewIDSource(), nil)
	router := NewRouter(gw, tracker, market, limit, splitter, twap, estimator, cfg, clock, nil)
	return router, tracker
}

func TestClassify(t *testing.T) {
	cfg := testRouterConfig()

	cases := []struct {
		name     string
		value    float64
		volatile bool
		cfg      config.RouterConfig
		want     Strategy
	}{
		{"small order", 400, false, cfg, StrategyMarket},
		{"medium order", 1500, false, cfg, StrategyLimit},
		{"large order prefers twap", 2500, false, cfg, StrategyTWAP},
		{"volatile overrides size", 2500, true, cfg, StrategyMarket},
		{"small boundary routes limit", 500, false, cfg, StrategyLimit},
		{"medium boundary routes twap", 2000, false, cfg, StrategyTWAP},
		{
			"twap disabled falls to split", 2500, false,
			config.RouterConfig{SmallOrderThreshold: 500, MediumOrderThreshold: 2000, EnableSplitting: true},
			StrategySplit,
		},
		{
			"all disabled falls to market", 2500, false,
			config.RouterConfig{SmallOrderThreshold: 500, MediumOrderThreshold: 2000},
			StrategyMarket,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.value, tc.volatile, tc.cfg); got != tc.want {
				t.Errorf("Classify(%f, %v) = %s, want %s", tc.value, tc.volatile, got, tc.want)
			}
		})
	}
}

func TestRouter_HoldIsRejectedWithoutGatewayCalls(t *testing.T) {
	gw := &fakeGateway{}
	router, _ := newTestRouter(gw, nil, testRouterConfig())

	outcome := router.Route(context.Background(), TradeIntent{Pair: "XBT/USD", Direction: DirectionHold}, Balances{})

	if outcome.Status != StatusRejected {
		t.Fatalf("expected REJECTED, got %s", outcome.Status)
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected no gateway calls for HOLD, got %v", gw.calls)
	}
}

func TestRouter_VolatileMarketOverridesSize(t *testing.T) {
	gw := &fakeGateway{
		ticker:    exchange.Ticker{Pair: "XBT/USD", Price: 100, Bid: 99, Ask: 100, High24h: 110, Low24h: 100},
		marketAck: orderAck("M1", 100, 0, 0, 0),
	}
	router, _ := newTestRouter(gw, nil, testRouterConfig())

	// 名义价值5000本应走TWAP，但24小时区间10%超过阈值。
	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionBuy, SizePct: 0.5}
	outcome := router.Route(context.Background(), intent, Balances{"USD": 10000})

	if outcome.Strategy != StrategyMarket {
		t.Fatalf("expected market in volatile regime, got %s", outcome.Strategy)
	}
	if n := gw.countCalls("MarketBuy"); n != 1 {
		t.Errorf("expected single market order, got %d", n)
	}
	if n := gw.countCalls("LimitBuy"); n != 0 {
		t.Errorf("expected no limit orders, got %d", n)
	}
}

func TestRouter_MediumOrderRoutesLimit(t *testing.T) {
	gw := &fakeGateway{
		ticker:   exchange.Ticker{Pair: "XBT/USD", Price: 99.5, Bid: 99, Ask: 100, High24h: 100, Low24h: 99.5},
		limitAck: orderAck("L1", 0, 0, 0, 0),
		queryStatus: exchange.OrderStatus{
			State:       exchange.OrderFilled,
			FilledQuote: 1000,
			Price:       99.9,
		},
	}
	router, _ := newTestRouter(gw, nil, testRouterConfig())

	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionBuy, SizePct: 0.5}
	outcome := router.Route(context.Background(), intent, Balances{"USD": 2000})

	if outcome.Strategy != StrategyLimit {
		t.Fatalf("expected limit strategy, got %s", outcome.Strategy)
	}
	if outcome.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", outcome.Status)
	}
}

func TestRouter_LargeOrderRoutesTWAPAndSettles(t *testing.T) {
	gw := &fakeGateway{
		ticker:   exchange.Ticker{Pair: "XBT/USD", Price: 99.5, Bid: 99, Ask: 100, High24h: 100, Low24h: 99.5},
		limitAck: orderAck("T1", 0, 0, 0, 0),
		queryStatus: exchange.OrderStatus{
			State:       exchange.OrderFilled,
			FilledQuote: 250,
			Price:       99.9,
		},
	}
	router, tracker := newTestRouter(gw, nil, testRouterConfig())

	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionBuy, SizePct: 0.5}
	outcome := router.Route(context.Background(), intent, Balances{"USD": 5000})

	if outcome.Strategy != StrategyTWAP {
		t.Fatalf("expected twap strategy, got %s", outcome.Strategy)
	}
	if outcome.Status != StatusFilled {
		t.Fatalf("expected FILLED aggregate, got %s", outcome.Status)
	}
	if outcome.Metadata["slice_count"] != 10 {
		t.Errorf("expected slice_count metadata, got %v", outcome.Metadata)
	}
	if tracker.entries["XBT"] == 0 {
		t.Error("expected entry price recorded for aggregate buy")
	}
	if len(tracker.trades) != 1 {
		t.Errorf("expected one recorded trade, got %d", len(tracker.trades))
	}

	counters := router.Counters()
	if counters[StrategyTWAP] != 1 {
		t.Errorf("expected twap counter 1, got %v", counters)
	}
}

func TestRouter_SplitWhenTWAPDisabled(t *testing.T) {
	cfg := testRouterConfig()
	cfg.EnableTWAP = false

	gw := &fakeGateway{
		ticker:    exchange.Ticker{Pair: "XBT/USD", Price: 100, Bid: 99, Ask: 100, High24h: 100, Low24h: 99.5},
		marketAck: orderAck("C1", 100, 0, 0, 0),
	}
	router, _ := newTestRouter(gw, nil, cfg)

	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionBuy, SizePct: 0.5}
	outcome := router.Route(context.Background(), intent, Balances{"USD": 5000})

	if outcome.Strategy != StrategySplit {
		t.Fatalf("expected split strategy, got %s", outcome.Strategy)
	}
	if outcome.Metadata["chunk_count"] == nil {
		t.Errorf("expected chunk_count metadata, got %v", outcome.Metadata)
	}
}

func TestRouter_EstimatorDecidesWithoutDailyRange(t *testing.T) {
	est := &fakeEstimator{volatile: true}
	gw := &fakeGateway{
		ticker:    exchange.Ticker{Pair: "XBT/USD", Price: 100, Bid: 99, Ask: 100},
		marketAck: orderAck("M1", 100, 0, 0, 0),
	}
	router, _ := newTestRouter(gw, est, testRouterConfig())

	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionBuy, SizePct: 0.5}
	outcome := router.Route(context.Background(), intent, Balances{"USD": 5000})

	if est.calls != 1 {
		t.Fatalf("expected estimator consulted once, got %d", est.calls)
	}
	if outcome.Strategy != StrategyMarket {
		t.Errorf("expected market for estimated volatility, got %s", outcome.Strategy)
	}
}

func TestRouter_SellValueUsesTickerPrice(t *testing.T) {
	gw := &fakeGateway{
		ticker:    exchange.Ticker{Pair: "XBT/USD", Price: 100, Bid: 99, Ask: 100, High24h: 100, Low24h: 99.5},
		marketAck: orderAck("M2", 100, 4, 400, 0),
	}
	router, _ := newTestRouter(gw, nil, testRouterConfig())

	// 4 XBT × 100 = 400 名义价值，落入小额档。
	intent := TradeIntent{Pair: "XBT/USD", Direction: DirectionSell}
	outcome := router.Route(context.Background(), intent, Balances{"XBT": 4})

	if outcome.Strategy != StrategyMarket {
		t.Fatalf("expected market for small sell, got %s", outcome.Strategy)
	}
	if outcome.Status != StatusFilled {
		t.Errorf("expected FILLED, got %s", outcome.Status)
	}
}
