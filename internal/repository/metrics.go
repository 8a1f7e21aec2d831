package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paiban/planrules/pkg/rules"
)

// MetricsStore 规则执行统计仓储，实现 rules.MetricsStore
type MetricsStore struct {
	db  TxDB
	now func() time.Time
}

// NewMetricsStore 创建统计仓储
func NewMetricsStore(db TxDB) *MetricsStore {
	return &MetricsStore{db: db, now: time.Now}
}

// Apply 在单个事务内累加一次运行的统计增量
//
// 计数列只做 col = col + $n 的增量更新，并发运行不会丢失计数。
func (s *MetricsStore) Apply(ctx context.Context, deltas []rules.MetricsDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	at := s.now()

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rule_metrics (
				rule_id, execution_count, success_count, failure_count, fired_count,
				total_execution_time, last_executed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (rule_id) DO UPDATE SET
				execution_count = rule_metrics.execution_count + EXCLUDED.execution_count,
				success_count = rule_metrics.success_count + EXCLUDED.success_count,
				failure_count = rule_metrics.failure_count + EXCLUDED.failure_count,
				fired_count = rule_metrics.fired_count + EXCLUDED.fired_count,
				total_execution_time = rule_metrics.total_execution_time + EXCLUDED.total_execution_time,
				last_executed_at = EXCLUDED.last_executed_at
		`)
		if err != nil {
			return fmt.Errorf("准备统计语句失败: %w", err)
		}
		defer stmt.Close()

		for _, d := range deltas {
			ms := float64(d.TotalDuration) / float64(time.Millisecond)
			if _, err := stmt.ExecContext(ctx,
				d.RuleID, d.Executions, d.Successes, d.Failures, d.Fired, ms, at,
			); err != nil {
				return fmt.Errorf("更新规则 %s 统计失败: %w", d.RuleID, err)
			}
		}
		return nil
	})
}

// List 列出全部规则统计
func (s *MetricsStore) List(ctx context.Context) ([]rules.RuleMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, execution_count, success_count, failure_count, fired_count,
			total_execution_time, last_executed_at
		FROM rule_metrics
		ORDER BY rule_id
	`)
	if err != nil {
		return nil, fmt.Errorf("查询规则统计失败: %w", err)
	}
	defer rows.Close()

	var out []rules.RuleMetrics
	for rows.Next() {
		var (
			m        rules.RuleMetrics
			lastExec sql.NullTime
		)
		if err := rows.Scan(
			&m.RuleID, &m.ExecutionCount, &m.SuccessCount, &m.FailureCount, &m.FiredCount,
			&m.TotalExecutionTime, &lastExec,
		); err != nil {
			return nil, fmt.Errorf("读取规则统计失败: %w", err)
		}
		if lastExec.Valid {
			m.LastExecutedAt = lastExec.Time
		}
		m.Apply(rules.MetricsDelta{}, m.LastExecutedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
