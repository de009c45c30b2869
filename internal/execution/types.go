package execution

import (
	"strings"
	"time"
)

// Direction 表示交易方向。
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Strategy 标识执行策略。
type Strategy string

const (
	StrategyMarket Strategy = "market"
	StrategyLimit  Strategy = "limit"
	StrategyTWAP   Strategy = "twap"
	StrategySplit  Strategy = "split"
)

// TradeStatus 表示交易记录的生命周期状态。
type TradeStatus string

const (
	StatusPending         TradeStatus = "PENDING"
	StatusRejected        TradeStatus = "REJECTED"
	StatusSubmitted       TradeStatus = "SUBMITTED"
	StatusFilled          TradeStatus = "FILLED"
	StatusPartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	StatusTimedOut        TradeStatus = "TIMED_OUT"
	StatusFailed          TradeStatus = "FAILED"
)

// Terminal 判断状态是否为终态，终态之后不允许回退。
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusFilled, StatusFailed:
		return true
	default:
		return false
	}
}

// Successful 判断状态是否计入成功交易。
func (s TradeStatus) Successful() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

// TradeIntent 为上游风控批准后的交易意图，进入引擎后不可变。
type TradeIntent struct {
	Pair          string   `json:"pair"`
	Direction     Direction `json:"direction"`
	Confidence    float64  `json:"confidence"`
	SizePct       float64  `json:"size_pct"`
	OrderTypeHint Strategy `json:"order_type_hint,omitempty"`
	StopLossPct   float64  `json:"stop_loss_pct,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// TradingPlan 为一组已批准交易意图，顺序即执行顺序。
type TradingPlan struct {
	ID        string        `json:"id"`
	Intents   []TradeIntent `json:"intents"`
	CreatedAt time.Time     `json:"created_at"`
}

// Trade 为单个意图的执行记录，仅由负责它的执行器修改。
type Trade struct {
	Pair         string      `json:"pair"`
	Direction    Direction   `json:"direction"`
	OrderType    Strategy    `json:"order_type"`
	Status       TradeStatus `json:"status"`

	RequestedQuote float64 `json:"requested_quote,omitempty"`
	RequestedBase  float64 `json:"requested_base,omitempty"`
	FilledBase     float64 `json:"filled_base"`
	FilledQuote    float64 `json:"filled_quote"`
	AveragePrice   float64 `json:"average_price"`
	Fee            float64 `json:"fee"`

	OrderID      string `json:"order_id,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	EntryPrice  float64 `json:"entry_price,omitempty"`
	ExitPrice   float64 `json:"exit_price,omitempty"`
	RealizedPnL float64 `json:"realized_pnl,omitempty"`
	NetPnL      float64 `json:"net_pnl,omitempty"`

	DecidedAt   time.Time `json:"decided_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
}

// Latency 返回从决策到成交的耗时，未成交返回0。
func (t Trade) Latency() time.Duration {
	if t.FilledAt.IsZero() || t.DecidedAt.IsZero() {
		return 0
	}
	return t.FilledAt.Sub(t.DecidedAt)
}

// ChildStatus 表示子订单状态。
type ChildStatus string

const (
	ChildPending ChildStatus = "pending"
	ChildFilled  ChildStatus = "filled"
	ChildFailed  ChildStatus = "failed"
)

// ChildOrder 为拆单或TWAP切片的子订单，归属其父结果独占。
type ChildOrder struct {
	Index        int         `json:"index"`
	TargetSize   float64     `json:"target_size"`
	ExecutedSize float64     `json:"executed_size"`
	FillPrice    float64     `json:"fill_price"`
	Status       ChildStatus `json:"status"`
	OrderID      string      `json:"order_id,omitempty"`
}

// AggregateStatus 表示多子订单执行的整体结果。
type AggregateStatus string

const (
	AggregateCompleted AggregateStatus = "completed"
	AggregatePartial   AggregateStatus = "partial"
)

// completionThreshold 为判定 completed 的最低成交比例。
const completionThreshold = 0.95

// SplitResult 为一次拆单执行的聚合结果。
type SplitResult struct {
	ParentID     string          `json:"parent_id"`
	Pair         string          `json:"pair"`
	Side         Direction       `json:"side"`
	TargetSize   float64         `json:"target_size"`
	ExecutedSize float64         `json:"executed_size"`
	AveragePrice float64         `json:"average_price"`
	Children     []ChildOrder    `json:"children"`
	Status       AggregateStatus `json:"status"`
}

// TWAPResult 为一次TWAP执行的聚合结果。
type TWAPResult struct {
	ParentID       string          `json:"parent_id"`
	Pair           string          `json:"pair"`
	Side           Direction       `json:"side"`
	TargetSize     float64         `json:"target_size"`
	ExecutedSize   float64         `json:"executed_size"`
	AveragePrice   float64         `json:"average_price"`
	BenchmarkPrice float64         `json:"benchmark_price"`
	Slippage       float64         `json:"slippage"`
	Slices         []ChildOrder    `json:"slices"`
	Status         AggregateStatus `json:"status"`
}

// StrategyOutcome 为路由器归一化后的执行结果。
type StrategyOutcome struct {
	Pair     string                 `json:"pair"`
	Strategy Strategy               `json:"strategy"`
	Status   TradeStatus            `json:"status"`
	Price    float64                `json:"price"`
	Trade    Trade                  `json:"trade"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionReport 为一次交易计划执行的汇总，返回后不再修改。
type ExecutionReport struct {
	PlanID     string    `json:"plan_id"`
	Trades     []Trade   `json:"trades"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Successful 返回成交或部分成交的交易。
func (r ExecutionReport) Successful() []Trade {
	out := make([]Trade, 0, len(r.Trades))
	for _, t := range r.Trades {
		if t.Status.Successful() {
			out = append(out, t)
		}
	}
	return out
}

// Failed 返回失败的交易。
func (r ExecutionReport) Failed() []Trade {
	out := make([]Trade, 0)
	for _, t := range r.Trades {
		if t.Status == StatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// ExecutedQuoteVolume 返回本次计划累计成交的计价货币量。
func (r ExecutionReport) ExecutedQuoteVolume() float64 {
	var total float64
	for _, t := range r.Trades {
		total += t.FilledQuote
	}
	return total
}

// Balances 为按币种索引的可用余额。
type Balances map[string]float64

// Quote 返回交易对计价货币的可用余额。
func (b Balances) Quote(pair string) float64 {
	return b[QuoteAsset(pair)]
}

// Base 返回交易对基础货币的可用余额。
func (b Balances) Base(pair string) float64 {
	return b[BaseAsset(pair)]
}

// Clone 返回余额的独立副本，供引擎在计划内顺序记账。
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// BaseAsset 提取交易对的基础货币，如 "XBT/USD" -> "XBT"。
func BaseAsset(pair string) string {
	if idx := strings.IndexByte(pair, '/'); idx > 0 {
		return pair[:idx]
	}
	return pair
}

// QuoteAsset 提取交易对的计价货币，如 "XBT/USD" -> "USD"。
func QuoteAsset(pair string) string {
	if idx := strings.IndexByte(pair, '/'); idx >= 0 && idx+1 < len(pair) {
		return pair[idx+1:]
	}
	return ""
}
