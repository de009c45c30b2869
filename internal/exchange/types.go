package exchange

import "time"

// Timeframe1h 为波动率估计采用的K线周期。
const Timeframe1h = "1h"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker 为行情快照。
type Ticker struct {
	Pair    string
	Price   float64
	Bid     float64
	Ask     float64
	High24h float64
	Low24h  float64
}

// Spread 返回买卖价差，盘口缺失时为0。
func (t Ticker) Spread() float64 {
	if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid {
		return 0
	}
	return t.Ask - t.Bid
}

// BookLevel 表示盘口档位。
type BookLevel struct {
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// OrderBook 为订单簿快照。
type OrderBook struct {
	Pair      string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// OrderState 为交易所侧订单状态。
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderPartial  OrderState = "partial"
	OrderFilled   OrderState = "filled"
	OrderCanceled OrderState = "canceled"
)

// OrderAck 为下单回执，订单号已在网关边界完成归一化。
type OrderAck struct {
	OrderID     string
	Price       float64
	FilledBase  float64
	FilledQuote float64
	Fee         float64
}

// OrderStatus 为订单查询结果。
type OrderStatus struct {
	State       OrderState
	FilledBase  float64
	FilledQuote float64
	Price       float64
}

// MarketSnapshot 聚合行情、盘口与K线数据。
type MarketSnapshot struct {
	Pair        string
	Ticker      Ticker
	OrderBook   OrderBook
	Candles1H   []Candle
	RetrievedAt time.Time
}
