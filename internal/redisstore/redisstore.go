// Package redisstore 提供基于 Redis 的疲劳分存储
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paiban/planrules/internal/config"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/logger"
)

// 在服务端完成读取、累加与下限截断
var addScript = redis.NewScript(`
local score = tonumber(redis.call('HGET', KEYS[1], 'score') or '0') + tonumber(ARGV[1])
if score < 0 then
	score = 0
end
redis.call('HSET', KEYS[1], 'score', tostring(score), 'updated', ARGV[2])
return tostring(score)
`)

// FatigueStore 疲劳分的 Redis 存储，实现 fatigue.Store
type FatigueStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// New 创建存储
func New(rdb redis.UniversalClient, prefix string) *FatigueStore {
	return &FatigueStore{rdb: rdb, prefix: prefix}
}

// Connect 按配置连接 Redis 并做健康检查
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr()).Msg("Redis 连接成功")
	return rdb, nil
}

func (s *FatigueStore) key(userID string) string {
	return s.prefix + userID
}

// Get 获取疲劳状态，未记录的人员分值为0
func (s *FatigueStore) Get(ctx context.Context, userID string) (fatigue.State, error) {
	state := fatigue.State{UserID: userID}
	vals, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return state, fmt.Errorf("读取疲劳分失败: %w", err)
	}
	return decode(state, vals["score"], vals["updated"])
}

// Add 原子累加疲劳分，结果不低于0
func (s *FatigueStore) Add(ctx context.Context, userID string, delta float64, at time.Time) (fatigue.State, error) {
	state := fatigue.State{UserID: userID}
	updated := at.UTC().Format(time.RFC3339Nano)

	res, err := addScript.Run(ctx, s.rdb, []string{s.key(userID)},
		strconv.FormatFloat(delta, 'f', -1, 64), updated).Text()
	if err != nil {
		return state, fmt.Errorf("更新疲劳分失败: %w", err)
	}
	return decode(state, res, updated)
}

// GetMany 通过管道批量读取
func (s *FatigueStore) GetMany(ctx context.Context, userIDs []string) (map[string]fatigue.State, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("批量读取疲劳分失败: %w", err)
	}

	out := make(map[string]fatigue.State, len(userIDs))
	for i, id := range userIDs {
		vals := cmds[i].Val()
		if len(vals) == 0 {
			continue
		}
		st, err := decode(fatigue.State{UserID: id}, vals["score"], vals["updated"])
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

func decode(state fatigue.State, score, updated string) (fatigue.State, error) {
	if score == "" {
		return state, nil
	}
	v, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return state, fmt.Errorf("疲劳分格式错误 %q: %w", score, err)
	}
	state.Score = v
	if updated != "" {
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			state.LastUpdated = t
		}
	}
	return state, nil
}
