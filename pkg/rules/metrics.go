package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paiban/planrules/pkg/logger"
)

// MetricsDelta 单次运行中某条规则的统计增量
type MetricsDelta struct {
	RuleID        string        `json:"ruleId"`
	Executions    int64         `json:"executions"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Fired         int64         `json:"fired"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// RuleMetrics 规则的累计统计
type RuleMetrics struct {
	RuleID             string    `json:"ruleId"`
	ExecutionCount     int64     `json:"executionCount"`
	SuccessCount       int64     `json:"successCount"`
	FailureCount       int64     `json:"failureCount"`
	FiredCount         int64     `json:"firedCount"`
	TotalExecutionTime float64   `json:"totalExecutionTime"` // 毫秒
	AvgExecutionTime   float64   `json:"avgExecutionTime"`   // 毫秒
	ImpactScore        float64   `json:"impactScore"`
	LastExecutedAt     time.Time `json:"lastExecutedAt,omitempty"`
}

// Apply 合并增量
func (m *RuleMetrics) Apply(d MetricsDelta, at time.Time) {
	m.ExecutionCount += d.Executions
	m.SuccessCount += d.Successes
	m.FailureCount += d.Failures
	m.FiredCount += d.Fired
	m.TotalExecutionTime += float64(d.TotalDuration) / float64(time.Millisecond)
	m.LastExecutedAt = at
	m.recompute()
}

func (m *RuleMetrics) recompute() {
	if m.ExecutionCount == 0 {
		m.AvgExecutionTime = 0
		m.ImpactScore = 0
		return
	}
	m.AvgExecutionTime = m.TotalExecutionTime / float64(m.ExecutionCount)
	m.ImpactScore = float64(m.FiredCount) / float64(m.ExecutionCount)
}

// MetricsCollector 单次运行内的统计收集器，不并发使用
type MetricsCollector struct {
	deltas map[string]*MetricsDelta
	order  []string
}

// NewMetricsCollector 创建收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{deltas: make(map[string]*MetricsDelta)}
}

func (c *MetricsCollector) get(ruleID string) *MetricsDelta {
	d, ok := c.deltas[ruleID]
	if !ok {
		d = &MetricsDelta{RuleID: ruleID}
		c.deltas[ruleID] = d
		c.order = append(c.order, ruleID)
	}
	return d
}

// Observe 记录一次执行
func (c *MetricsCollector) Observe(ruleID string, d time.Duration, failed bool) {
	m := c.get(ruleID)
	m.Executions++
	m.TotalDuration += d
	if failed {
		m.Failures++
	} else {
		m.Successes++
	}
}

// Fired 记录一次触发
func (c *MetricsCollector) Fired(ruleID string) {
	c.get(ruleID).Fired++
}

// Fail 将一次已记为成功的执行改记为失败（动作执行出错）
func (c *MetricsCollector) Fail(ruleID string) {
	m := c.get(ruleID)
	if m.Successes > 0 {
		m.Successes--
	}
	m.Failures++
}

// Deltas 返回按首次出现顺序排列的增量
func (c *MetricsCollector) Deltas() []MetricsDelta {
	out := make([]MetricsDelta, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.deltas[id])
	}
	return out
}

// MetricsStore 规则统计存储
type MetricsStore interface {
	Apply(ctx context.Context, deltas []MetricsDelta) error
	List(ctx context.Context) ([]RuleMetrics, error)
}

// MetricsRecorder 接收一次运行的统计增量
type MetricsRecorder interface {
	Record(deltas []MetricsDelta)
}

// RecorderFunc 函数形式的 MetricsRecorder
type RecorderFunc func(deltas []MetricsDelta)

// Record 实现 MetricsRecorder
func (f RecorderFunc) Record(deltas []MetricsDelta) { f(deltas) }

// MemoryMetricsStore 内存统计存储
type MemoryMetricsStore struct {
	mu      sync.Mutex
	metrics map[string]*RuleMetrics
	now     func() time.Time
}

// NewMemoryMetricsStore 创建内存统计存储
func NewMemoryMetricsStore() *MemoryMetricsStore {
	return &MemoryMetricsStore{metrics: make(map[string]*RuleMetrics), now: time.Now}
}

// Apply 合并增量
func (s *MemoryMetricsStore) Apply(_ context.Context, deltas []MetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, d := range deltas {
		m, ok := s.metrics[d.RuleID]
		if !ok {
			m = &RuleMetrics{RuleID: d.RuleID}
			s.metrics[d.RuleID] = m
		}
		m.Apply(d, now)
	}
	return nil
}

// List 返回所有规则的统计，按规则ID排序
func (s *MemoryMetricsStore) List(_ context.Context) ([]RuleMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RuleMetrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// Get 返回某条规则的统计
func (s *MemoryMetricsStore) Get(ruleID string) (RuleMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[ruleID]
	if !ok {
		return RuleMetrics{}, false
	}
	return *m, true
}

// AsyncRecorder 异步写入统计
//
// 单个 goroutine 消费有界队列；队列满时丢弃并记录日志，不阻塞运行。
type AsyncRecorder struct {
	store   MetricsStore
	timeout time.Duration
	queue   chan []MetricsDelta
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncRecorder 创建并启动异步写入器
func NewAsyncRecorder(store MetricsStore, buffer int, timeout time.Duration) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &AsyncRecorder{
		store:   store,
		timeout: timeout,
		queue:   make(chan []MetricsDelta, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record 投递增量，队列满或已关闭时丢弃
func (r *AsyncRecorder) Record(deltas []MetricsDelta) {
	if len(deltas) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		logger.Warn().Int("rules", len(deltas)).Msg("统计写入器已关闭，丢弃规则统计")
		return
	}
	select {
	case r.queue <- deltas:
	default:
		logger.Warn().Int("rules", len(deltas)).Msg("统计队列已满，丢弃规则统计")
	}
}

// Close 停止接收，写完队列中剩余的统计后返回
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)
	for deltas := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Apply(ctx, deltas); err != nil {
			logger.Error().Err(err).Int("rules", len(deltas)).Msg("写入规则统计失败")
		}
		cancel()
	}
}
