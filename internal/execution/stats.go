package execution

import "sync"

// Stats 为执行器生命周期内的累计计数，仅由持有它的执行器写入。
// 互斥锁用于在多协程运行时下保护读写。
type Stats struct {
	mu sync.Mutex

	totalOrders     uint64
	marketOrders    uint64
	limitOrders     uint64
	limitFills      uint64
	limitTimeouts   uint64
	partialFills    uint64
	marketFallbacks uint64
	slippageSum     float64
	slippageCount   uint64
}

// NewStats 创建空计数器。
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordMarketOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOrders++
	s.marketOrders++
}

func (s *Stats) recordLimitOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOrders++
	s.limitOrders++
}

func (s *Stats) recordLimitFill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitFills++
}

func (s *Stats) recordLimitTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitTimeouts++
}

func (s *Stats) recordPartialFill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialFills++
}

func (s *Stats) recordMarketFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketFallbacks++
}

func (s *Stats) recordSlippage(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slippageSum += value
	s.slippageCount++
}

// StatsSnapshot 为对外暴露的只读统计视图。
type StatsSnapshot struct {
	TotalOrders     uint64  `json:"total_orders"`
	MarketOrders    uint64  `json:"market_orders"`
	LimitOrders     uint64  `json:"limit_orders"`
	LimitFills      uint64  `json:"limit_fills"`
	LimitTimeouts   uint64  `json:"limit_timeouts"`
	PartialFills    uint64  `json:"partial_fills"`
	MarketFallbacks uint64  `json:"market_fallbacks"`
	FillRate        float64 `json:"fill_rate"`
	AverageSlippage float64 `json:"average_slippage"`
}

// Snapshot 返回当前统计快照及派生指标。
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalOrders:     s.totalOrders,
		MarketOrders:    s.marketOrders,
		LimitOrders:     s.limitOrders,
		LimitFills:      s.limitFills,
		LimitTimeouts:   s.limitTimeouts,
		PartialFills:    s.partialFills,
		MarketFallbacks: s.marketFallbacks,
	}
	if s.limitOrders > 0 {
		snap.FillRate = float64(s.limitFills) / float64(s.limitOrders)
	}
	if s.slippageCount > 0 {
		snap.AverageSlippage = s.slippageSum / float64(s.slippageCount)
	}
	return snap
}
