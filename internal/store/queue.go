package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PlanStatus 表示计划在队列中的状态。
type PlanStatus string

const (
	PlanPending PlanStatus = "pending"
	PlanDone    PlanStatus = "done"
	PlanFailed  PlanStatus = "failed"
)

// PendingPlan 为队列中等待执行的计划，载荷为上游写入的JSON。
type PendingPlan struct {
	ID         string
	Payload    []byte
	EnqueuedAt time.Time
}

// PlanQueue 是风控上游与执行引擎之间的进程内交接队列，
// 以 SQLite 持久化保证重启后不丢计划。
type PlanQueue struct {
	db *sql.DB
}

// NewPlanQueue 初始化计划队列并创建表结构。
func NewPlanQueue(store *Store) (*PlanQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("store: 队列依赖的存储不能为空")
	}

	q := &PlanQueue{db: store.DB()}
	stmt := `
CREATE TABLE IF NOT EXISTS pending_plans (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	enqueued_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_plans_status ON pending_plans(status);
`
	if _, err := q.db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("store: 初始化计划队列失败: %w", err)
	}
	return q, nil
}

// Enqueue 写入一个待执行计划。
func (q *PlanQueue) Enqueue(ctx context.Context, id string, payload []byte) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO pending_plans (id, payload, status, enqueued_at) VALUES (?, ?, ?, ?)`,
		id, string(payload), string(PlanPending), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: 计划入队失败: %w", err)
	}
	return nil
}

// Pending 按入队顺序返回全部待执行计划。
func (q *PlanQueue) Pending(ctx context.Context) ([]PendingPlan, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload, enqueued_at FROM pending_plans WHERE status = ? ORDER BY enqueued_at, rowid`,
		string(PlanPending),
	)
	if err != nil {
		return nil, fmt.Errorf("store: 查询待执行计划失败: %w", err)
	}
	defer rows.Close()

	var plans []PendingPlan
	for rows.Next() {
		var plan PendingPlan
		var payload, enqueued string
		if err := rows.Scan(&plan.ID, &payload, &enqueued); err != nil {
			return nil, fmt.Errorf("store: 读取计划记录失败: %w", err)
		}
		plan.Payload = []byte(payload)
		if ts, parseErr := time.Parse(time.RFC3339, enqueued); parseErr == nil {
			plan.EnqueuedAt = ts
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// MarkFinished 标记计划的最终状态。
func (q *PlanQueue) MarkFinished(ctx context.Context, id string, status PlanStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_plans SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("store: 更新计划状态失败: %w", err)
	}
	return nil
}
