package fatigue

import (
	"context"
	"math"
	"sync"
	"time"
)

// State 单个人员的疲劳状态
type State struct {
	UserID      string    `json:"userId"`
	Score       float64   `json:"fatigueScore"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Store 疲劳状态持久化接口
//
// Add 必须是原子增量操作，结果下限为0。实现不得采用先读后写。
type Store interface {
	Get(ctx context.Context, userID string) (State, error)
	Add(ctx context.Context, userID string, delta float64, at time.Time) (State, error)
}

// BatchStore 支持批量读取的存储，缺失的人员分值视为0
type BatchStore interface {
	GetMany(ctx context.Context, userIDs []string) (map[string]State, error)
}

// MemoryStore 内存实现，按人员加锁
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(userID string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		e = &memoryEntry{state: State{UserID: userID}}
		s.entries[userID] = e
	}
	return e
}

// Get 获取疲劳状态，未记录的人员分值为0
func (s *MemoryStore) Get(_ context.Context, userID string) (State, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Add 原子累加
func (s *MemoryStore) Add(_ context.Context, userID string, delta float64, at time.Time) (State, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Score = math.Max(0, e.state.Score+delta)
	e.state.LastUpdated = at
	return e.state, nil
}

// Set 直接设置分值（初始化和测试使用）
func (s *MemoryStore) Set(userID string, score float64, at time.Time) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Score = math.Max(0, score)
	e.state.LastUpdated = at
}
