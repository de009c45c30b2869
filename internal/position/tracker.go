package position

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"kraken-trader/internal/execution"
	"kraken-trader/internal/store"
)

// Tracker 维护各资产的加权持仓成本并持久化交易记录。内存视图为
// 权威，SQLite 仅用于崩溃恢复与审计。
type Tracker struct {
	mu      sync.Mutex
	entries map[string]entry
	db      *sql.DB
	logger  *zap.Logger
}

type entry struct {
	price  float64
	amount float64
}

// NewTracker 创建持仓跟踪器。st 为nil时仅保留内存视图。
func NewTracker(st *store.Store, logger *zap.Logger) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		entries: make(map[string]entry),
		logger:  logger,
	}

	if st != nil {
		t.db = st.DB()
		if err := t.initSchema(); err != nil {
			return nil, err
		}
		if err := t.restore(); err != nil {
			return nil, err
		}
	}

	return t, nil
}

var _ execution.PositionTracker = (*Tracker)(nil)

func (t *Tracker) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS entry_prices (
	asset TEXT PRIMARY KEY,
	price REAL NOT NULL,
	amount REAL NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pair TEXT NOT NULL,
	direction TEXT NOT NULL,
	order_type TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_base REAL NOT NULL,
	filled_quote REAL NOT NULL,
	average_price REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair);
`
	if _, err := t.db.Exec(stmt); err != nil {
		return fmt.Errorf("position: 初始化表结构失败: %w", err)
	}
	return nil
}

func (t *Tracker) restore() error {
	rows, err := t.db.Query(`SELECT asset, price, amount FROM entry_prices`)
	if err != nil {
		return fmt.Errorf("position: 恢复持仓成本失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var asset string
		var e entry
		if err := rows.Scan(&asset, &e.price, &e.amount); err != nil {
			return fmt.Errorf("position: 读取持仓成本失败: %w", err)
		}
		t.entries[asset] = e
	}
	return rows.Err()
}

// SetEntryPrice 记录买入成本。同一资产重复买入时按数量加权平均。
func (t *Tracker) SetEntryPrice(ctx context.Context, asset string, price float64, amount float64) error {
	if price <= 0 || amount <= 0 {
		return fmt.Errorf("position: 无效的成本参数 price=%.8f amount=%.8f", price, amount)
	}

	t.mu.Lock()
	prev, ok := t.entries[asset]
	next := entry{price: price, amount: amount}
	if ok && prev.amount > 0 {
		total := prev.amount + amount
		next = entry{
			price:  (prev.price*prev.amount + price*amount) / total,
			amount: total,
		}
	}
	t.entries[asset] = next
	t.mu.Unlock()

	if t.db == nil {
		return nil
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO entry_prices (asset, price, amount, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(asset) DO UPDATE SET price = excluded.price, amount = excluded.amount, updated_at = excluded.updated_at`,
		asset, next.price, next.amount, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("position: 持久化持仓成本失败: %w", err)
	}
	return nil
}

// EntryPrice 返回资产的持仓成本，无持仓时为0。
func (t *Tracker) EntryPrice(ctx context.Context, asset string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[asset].price, nil
}

// ClearEntryPrice 在平仓后清除持仓成本。
func (t *Tracker) ClearEntryPrice(ctx context.Context, asset string) error {
	t.mu.Lock()
	delete(t.entries, asset)
	t.mu.Unlock()

	if t.db == nil {
		return nil
	}

	if _, err := t.db.ExecContext(ctx, `DELETE FROM entry_prices WHERE asset = ?`, asset); err != nil {
		return fmt.Errorf("position: 清除持仓成本失败: %w", err)
	}
	return nil
}

// RecordTrade 持久化一条交易记录。
func (t *Tracker) RecordTrade(ctx context.Context, trade execution.Trade) error {
	if t.db == nil {
		return nil
	}

	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("position: 序列化交易记录失败: %w", err)
	}

	_, err = t.db.ExecContext(ctx,
		`INSERT INTO trades (pair, direction, order_type, status, filled_base, filled_quote, average_price, realized_pnl, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.Pair, string(trade.Direction), string(trade.OrderType), string(trade.Status),
		trade.FilledBase, trade.FilledQuote, trade.AveragePrice, trade.RealizedPnL,
		string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("position: 写入交易记录失败: %w", err)
	}
	return nil
}
