package fatigue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/logger"
	"github.com/paiban/planrules/pkg/model"
)

// Level 疲劳等级
type Level string

const (
	LevelNormal   Level = "normal"
	LevelAlerte   Level = "alerte"
	LevelCritique Level = "critique"
)

// Scorer 疲劳度计分器
type Scorer struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// NewScorer 创建计分器
func NewScorer(cfg Config, store Store) *Scorer {
	return &Scorer{cfg: cfg, store: store, now: time.Now}
}

// WithClock 替换时钟（测试使用）
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Config 返回配置
func (s *Scorer) Config() Config {
	return s.cfg
}

// Level 根据阈值判断等级
func (s *Scorer) Level(score float64) Level {
	switch {
	case score >= s.cfg.Seuils.Critique:
		return LevelCritique
	case score >= s.cfg.Seuils.Alerte:
		return LevelAlerte
	default:
		return LevelNormal
	}
}

// Points 计算一次排班累计的疲劳分
func (s *Scorer) Points(a *model.Assignment) float64 {
	if !s.cfg.Enabled {
		return 0
	}

	var pts float64
	switch a.Type {
	case model.AssignmentGarde24h, model.AssignmentGarde:
		pts += s.cfg.Points.Garde
	case model.AssignmentAstreinte:
		pts += s.cfg.Points.Astreinte
	}
	if a.RoomCount > 1 {
		pts += s.cfg.Points.SupervisionMultiple
	}
	if a.Pediatric {
		pts += s.cfg.Points.Pediatrie
	}
	if a.Specialty != "" {
		if v, ok := s.cfg.Points.Specialties[strings.ToLower(a.Specialty)]; ok {
			pts += v
		} else if s.cfg.isHeavy(a.Specialty) {
			pts += s.cfg.Points.SpecialiteLourde
		}
	}
	return pts
}

// UpdateFatigue 按事件更新疲劳分，返回新分值
func (s *Scorer) UpdateFatigue(ctx context.Context, userID, eventType string, isRecovery bool) (float64, error) {
	if userID == "" {
		return 0, errors.InvalidInput("userId", "不能为空")
	}
	pts, err := s.cfg.eventPoints(eventType, isRecovery)
	if err != nil {
		return 0, err
	}
	if isRecovery {
		pts = -pts
	}
	return s.apply(ctx, userID, pts)
}

// RecordAssignment 提交一次已确认排班的疲劳分
func (s *Scorer) RecordAssignment(ctx context.Context, a *model.Assignment) (float64, error) {
	if a.UserID == "" {
		return 0, errors.InvalidAssignment(a.ID, "缺少 userId")
	}
	return s.apply(ctx, a.UserID, s.Points(a))
}

func (s *Scorer) apply(ctx context.Context, userID string, delta float64) (float64, error) {
	st, err := s.store.Add(ctx, userID, delta, s.now())
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeStoreUnavailable, fmt.Sprintf("更新疲劳分失败: %s", userID))
	}
	return st.Score, nil
}

// Get 获取当前疲劳状态
func (s *Scorer) Get(ctx context.Context, userID string) (State, error) {
	st, err := s.store.Get(ctx, userID)
	if err != nil {
		return State{}, errors.Wrap(err, errors.CodeStoreUnavailable, fmt.Sprintf("读取疲劳分失败: %s", userID))
	}
	return st, nil
}

// Snapshot 读取一批人员的基线分值
//
// 读取失败的人员不出现在结果中，引用其疲劳分的规则不会触发。
func (s *Scorer) Snapshot(ctx context.Context, userIDs []string) map[string]float64 {
	out := make(map[string]float64, len(userIDs))
	if !s.cfg.Enabled || len(userIDs) == 0 {
		return out
	}
	if batch, ok := s.store.(BatchStore); ok {
		states, err := batch.GetMany(ctx, userIDs)
		if err == nil {
			for _, id := range userIDs {
				out[id] = states[id].Score
			}
			return out
		}
		logger.WithContext(ctx).Warn().Err(err).Int("users", len(userIDs)).Msg("批量读取疲劳分失败，逐个读取")
	}
	for _, id := range userIDs {
		st, err := s.store.Get(ctx, id)
		if err != nil {
			logger.WithContext(ctx).Warn().Err(err).Str("user_id", id).Msg("读取疲劳分失败，跳过")
			continue
		}
		out[id] = st.Score
	}
	return out
}
