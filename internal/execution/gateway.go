package execution

import (
	"context"

	"kraken-trader/internal/exchange"
)

// Gateway 抽象执行引擎依赖的交易所能力。真实实现位于
// internal/exchange，测试中以脚本化假对象替换。
type Gateway interface {
	Balances(ctx context.Context) (map[string]float64, error)
	Ticker(ctx context.Context, pair string) (exchange.Ticker, error)
	OrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error)

	MarketBuy(ctx context.Context, pair string, quoteAmount float64) (exchange.OrderAck, error)
	MarketSell(ctx context.Context, pair string, baseAmount float64) (exchange.OrderAck, error)
	LimitBuy(ctx context.Context, pair string, quoteAmount float64, price float64) (exchange.OrderAck, error)
	LimitSell(ctx context.Context, pair string, baseAmount float64, price float64) (exchange.OrderAck, error)

	CancelOrder(ctx context.Context, orderID string) error

	// QueryOrder 为可选能力，不支持时返回 exchange.ErrQueryUnsupported，
	// 轮询退化为"超时前视为挂单中"。
	QueryOrder(ctx context.Context, orderID string) (exchange.OrderStatus, error)
}

// PositionTracker 抽象持仓记账协作方。记账失败只记日志，
// 不影响交易记录本身。
type PositionTracker interface {
	SetEntryPrice(ctx context.Context, asset string, price float64, amount float64) error
	EntryPrice(ctx context.Context, asset string) (float64, error)
	ClearEntryPrice(ctx context.Context, asset string) error
	RecordTrade(ctx context.Context, trade Trade) error
}
