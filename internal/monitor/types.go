package monitor

import (
	"time"

	"kraken-trader/internal/exchange"
	"kraken-trader/internal/execution"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventMarketSnapshot  EventType = "market_snapshot"
	EventExecutionReport EventType = "execution_report"
	EventExecutorStats   EventType = "executor_stats"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MarketSnapshotPayload 记录行情快照。
type MarketSnapshotPayload struct {
	Snapshot exchange.MarketSnapshot `json:"snapshot"`
}

// ExecutionReportPayload 记录一次计划执行的结果。
type ExecutionReportPayload struct {
	Report execution.ExecutionReport `json:"report"`
}

// ExecutorStatsPayload 记录单个执行器的累计统计。
type ExecutorStatsPayload struct {
	Executor string                  `json:"executor"`
	Stats    execution.StatsSnapshot `json:"stats"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
