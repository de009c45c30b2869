package execution

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
)

func testExecutionConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		MinOrderQuote:  10,
		SpreadBuffer:   0.1,
		PollInterval:   5 * time.Second,
		LimitTimeout:   60 * time.Second,
		SlippageTarget: 0.01,
		MaxChunkPct:    0.25,
		ChunkVariance:  0.15,
		StaggerMin:     30 * time.Second,
		StaggerMax:     60 * time.Second,
		BookDepth:      25,
		TWAPDuration:   30 * time.Minute,
		TWAPSlices:     10,
		SliceTimeout:   30 * time.Second,
	}
}

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		SmallOrderThreshold:  500,
		MediumOrderThreshold: 2000,
		VolatilityThreshold:  0.03,
		EnableTWAP:           true,
		EnableSplitting:      true,
	}
}

// fakeClock 在 Sleep 时立即推进自身时间，使轮询超时在测试中
// 无需真实等待即可触发。
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

type fakeTracker struct {
	entries map[string]float64
	amounts map[string]float64
	trades  []Trade
	cleared []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		entries: make(map[string]float64),
		amounts: make(map[string]float64),
	}
}

func (t *fakeTracker) SetEntryPrice(ctx context.Context, asset string, price float64, amount float64) error {
	t.entries[asset] = price
	t.amounts[asset] = amount
	return nil
}

func (t *fakeTracker) EntryPrice(ctx context.Context, asset string) (float64, error) {
	return t.entries[asset], nil
}

func (t *fakeTracker) ClearEntryPrice(ctx context.Context, asset string) error {
	t.cleared = append(t.cleared, asset)
	delete(t.entries, asset)
	delete(t.amounts, asset)
	return nil
}

func (t *fakeTracker) RecordTrade(ctx context.Context, trade Trade) error {
	t.trades = append(t.trades, trade)
	return nil
}

// fakeGateway 以脚本化响应模拟交易所网关，并记录全部调用顺序。
type fakeGateway struct {
	balances    map[string]float64
	balancesErr error

	ticker    exchange.Ticker
	tickerErr error

	book    exchange.OrderBook
	bookErr error

	marketAck exchange.OrderAck
	marketErr error
	limitAck  exchange.OrderAck
	limitErr  error

	queryStatus exchange.OrderStatus
	queryErr    error
	cancelErr   error

	calls         []string
	marketAmounts []float64
	limitAmounts  []float64
	limitPrices   []float64
	canceled      []string
}

func (g *fakeGateway) Balances(ctx context.Context) (map[string]float64, error) {
	g.calls = append(g.calls, "Balances")
	return g.balances, g.balancesErr
}

func (g *fakeGateway) Ticker(ctx context.Context, pair string) (exchange.Ticker, error) {
	g.calls = append(g.calls, "Ticker")
	return g.ticker, g.tickerErr
}

func (g *fakeGateway) OrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	g.calls = append(g.calls, "OrderBook")
	return g.book, g.bookErr
}

func (g *fakeGateway) MarketBuy(ctx context.Context, pair string, quoteAmount float64) (exchange.OrderAck, error) {
	g.calls = append(g.calls, "MarketBuy")
	g.marketAmounts = append(g.marketAmounts, quoteAmount)
	return g.marketAck, g.marketErr
}

func (g *fakeGateway) MarketSell(ctx context.Context, pair string, baseAmount float64) (exchange.OrderAck, error) {
	g.calls = append(g.calls, "MarketSell")
	g.marketAmounts = append(g.marketAmounts, baseAmount)
	return g.marketAck, g.marketErr
}

func (g *fakeGateway) LimitBuy(ctx context.Context, pair string, quoteAmount float64, price float64) (exchange.OrderAck, error) {
	g.calls = append(g.calls, "LimitBuy")
	g.limitAmounts = append(g.limitAmounts, quoteAmount)
	g.limitPrices = append(g.limitPrices, price)
	return g.limitAck, g.limitErr
}

func (g *fakeGateway) LimitSell(ctx context.Context, pair string, baseAmount float64, price float64) (exchange.OrderAck, error) {
	g.calls = append(g.calls, "LimitSell")
	g.limitAmounts = append(g.limitAmounts, baseAmount)
	g.limitPrices = append(g.limitPrices, price)
	return g.limitAck, g.limitErr
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.calls = append(g.calls, "CancelOrder")
	g.canceled = append(g.canceled, orderID)
	return g.cancelErr
}

func (g *fakeGateway) QueryOrder(ctx context.Context, orderID string) (exchange.OrderStatus, error) {
	g.calls = append(g.calls, "QueryOrder")
	return g.queryStatus, g.queryErr
}

func (g *fakeGateway) countCalls(name string) int {
	n := 0
	for _, c := range g.calls {
		if c == name {
			n++
		}
	}
	return n
}

func orderAck(id string, price, base, quote, fee float64) exchange.OrderAck {
	return exchange.OrderAck{
		OrderID:     id,
		Price:       price,
		FilledBase:  base,
		FilledQuote: quote,
		Fee:         fee,
	}
}

func testTicker(price, bid, ask float64) exchange.Ticker {
	return exchange.Ticker{Pair: "XBT/USD", Price: price, Bid: bid, Ask: ask}
}

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func assertClose(t *testing.T, got, want, eps float64, label string) {
	t.Helper()
	if !approxEqual(got, want, eps) {
		t.Errorf("%s: got %f want %f", label, got, want)
	}
}

// assertFillConsistent 校验终态成交记录的量价自洽：
// filled_quote ≈ filled_base × average_price。
func assertFillConsistent(t *testing.T, trade Trade) {
	t.Helper()
	if trade.Status != StatusFilled {
		return
	}
	if !approxEqual(trade.FilledQuote, trade.FilledBase*trade.AveragePrice, 1e-6*trade.FilledQuote+1e-9) {
		t.Errorf("filled trade inconsistent: quote %f, base %f, avg %f",
			trade.FilledQuote, trade.FilledBase, trade.AveragePrice)
	}
}
