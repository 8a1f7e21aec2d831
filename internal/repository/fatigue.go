package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/paiban/planrules/pkg/fatigue"
)

// FatigueStore 疲劳分的 PostgreSQL 存储，实现 fatigue.Store
type FatigueStore struct {
	db DB
}

// NewFatigueStore 创建疲劳分存储
func NewFatigueStore(db DB) *FatigueStore {
	return &FatigueStore{db: db}
}

// Get 获取疲劳状态，未记录的人员分值为0
func (s *FatigueStore) Get(ctx context.Context, userID string) (fatigue.State, error) {
	state := fatigue.State{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT score, last_updated FROM fatigue_states WHERE user_id = $1`, userID,
	).Scan(&state.Score, &state.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("读取疲劳分失败: %w", err)
	}
	return state, nil
}

// Add 原子累加疲劳分，结果不低于0
func (s *FatigueStore) Add(ctx context.Context, userID string, delta float64, at time.Time) (fatigue.State, error) {
	state := fatigue.State{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO fatigue_states (user_id, score, last_updated)
		VALUES ($1, GREATEST($2::double precision, 0), $3)
		ON CONFLICT (user_id) DO UPDATE SET
			score = GREATEST(fatigue_states.score + $2::double precision, 0),
			last_updated = EXCLUDED.last_updated
		RETURNING score, last_updated
	`, userID, delta, at).Scan(&state.Score, &state.LastUpdated)
	if err != nil {
		return state, fmt.Errorf("更新疲劳分失败: %w", err)
	}
	return state, nil
}

// GetMany 批量读取疲劳状态
func (s *FatigueStore) GetMany(ctx context.Context, userIDs []string) (map[string]fatigue.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, score, last_updated FROM fatigue_states WHERE user_id = ANY($1)`,
		pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("批量读取疲劳分失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]fatigue.State, len(userIDs))
	for rows.Next() {
		var st fatigue.State
		if err := rows.Scan(&st.UserID, &st.Score, &st.LastUpdated); err != nil {
			return nil, fmt.Errorf("读取疲劳分失败: %w", err)
		}
		out[st.UserID] = st
	}
	return out, rows.Err()
}
