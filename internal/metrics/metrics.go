// Package metrics 提供Prometheus监控指标
package metrics

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paiban/planrules/pkg/rules"
)

// 指标名称
const (
	HTTPRequestsTotal     = "planrules_http_requests_total"
	HTTPRequestDuration   = "planrules_http_request_duration_seconds"
	ValidationRunsTotal   = "planrules_validation_runs_total"
	ValidationDuration    = "planrules_validation_duration_seconds"
	RuleEvaluationsTotal  = "planrules_rule_evaluations_total"
	ViolationsTotal       = "planrules_violations_total"
	ProposalsTotal        = "planrules_proposals_total"
	FatigueUpdatesTotal   = "planrules_fatigue_updates_total"
	EquityScore           = "planrules_equity_score"
	DBConnections         = "planrules_db_connections"
	RuleCacheRejectsGauge = "planrules_rule_rejections"
)

// 标签值之间的分隔符，不会出现在规则ID中
const labelSep = "\x1f"

// MetricsRegistry 指标注册表
type MetricsRegistry struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	mu         sync.RWMutex
}

// Counter 计数器
type Counter struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Gauge 仪表盘
type Gauge struct {
	Name   string
	Help   string
	Labels []string
	values map[string]float64
	mu     sync.RWMutex
}

// Histogram 直方图
type Histogram struct {
	Name    string
	Help    string
	Labels  []string
	Buckets []float64
	counts  map[string][]int
	sums    map[string]float64
	mu      sync.RWMutex
}

var (
	registry *MetricsRegistry
	once     sync.Once
)

// GetRegistry 获取全局注册表
func GetRegistry() *MetricsRegistry {
	once.Do(func() {
		registry = NewRegistry()
	})
	return registry
}

// NewRegistry 创建带默认指标的注册表
func NewRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}

	r.NewCounter(HTTPRequestsTotal, "HTTP请求总数", []string{"method", "path", "status"})
	r.NewHistogram(HTTPRequestDuration, "HTTP请求延迟",
		[]string{"method", "path"},
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0})

	r.NewCounter(ValidationRunsTotal, "规则校验运行次数", []string{"result"})
	r.NewHistogram(ValidationDuration, "规则校验耗时", nil,
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0})
	r.NewCounter(RuleEvaluationsTotal, "规则求值次数", []string{"rule_id", "result"})
	r.NewCounter(ViolationsTotal, "违规数", []string{"severity", "violation_type"})
	r.NewCounter(ProposalsTotal, "排班建议数", nil)
	r.NewCounter(FatigueUpdatesTotal, "疲劳分更新次数", []string{"kind"})
	r.NewGauge(EquityScore, "最近一次运行的公平性分数", nil)
	r.NewGauge(DBConnections, "数据库连接数", []string{"state"})
	r.NewGauge(RuleCacheRejectsGauge, "最近一次加载被拒绝的规则数", nil)
	return r
}

// NewCounter 创建计数器
func (r *MetricsRegistry) NewCounter(name, help string, labels []string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	counter := &Counter{
		Name:   name,
		Help:   help,
		Labels: labels,
		values: make(map[string]float64),
	}
	r.counters[name] = counter
	return counter
}

// NewGauge 创建仪表盘
func (r *MetricsRegistry) NewGauge(name, help string, labels []string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	gauge := &Gauge{
		Name:   name,
		Help:   help,
		Labels: labels,
		values: make(map[string]float64),
	}
	r.gauges[name] = gauge
	return gauge
}

// NewHistogram 创建直方图
func (r *MetricsRegistry) NewHistogram(name, help string, labels []string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	histogram := &Histogram{
		Name:    name,
		Help:    help,
		Labels:  labels,
		Buckets: buckets,
		counts:  make(map[string][]int),
		sums:    make(map[string]float64),
	}
	r.histograms[name] = histogram
	return histogram
}

// GetCounter 获取计数器
func (r *MetricsRegistry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge 获取仪表盘
func (r *MetricsRegistry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram 获取直方图
func (r *MetricsRegistry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// Inc 增加计数
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add 增加指定值
func (c *Counter) Add(value float64, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[labelKey(labelValues)] += value
}

// Value 读取当前值
func (c *Counter) Value(labelValues ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labelKey(labelValues)]
}

// Set 设置值
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[labelKey(labelValues)] = value
}

// Value 读取当前值
func (g *Gauge) Value(labelValues ...string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labelKey(labelValues)]
}

// Observe 记录观测值
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := labelKey(labelValues)
	if _, exists := h.counts[key]; !exists {
		h.counts[key] = make([]int, len(h.Buckets)+1)
	}

	// counts[i] 只记落在第 i 个区间内的观测，输出时再累加
	idx := sort.SearchFloat64s(h.Buckets, value)
	h.counts[key][idx]++
	h.sums[key] += value
}

// Count 返回观测次数
func (h *Histogram) Count(labelValues ...string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, n := range h.counts[labelKey(labelValues)] {
		total += n
	}
	return total
}

func labelKey(labels []string) string {
	return strings.Join(labels, labelSep)
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}

// WriteTo 以文本格式输出全部指标，按名称与标签排序
func (r *MetricsRegistry) WriteTo(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.RLock()
		writeHeader(w, c.Name, c.Help, "counter")
		for _, key := range sortedKeys(c.values) {
			fmt.Fprintf(w, "%s%s %s\n", c.Name, braces(formatLabels(c.Labels, key)), formatValue(c.values[key]))
		}
		c.mu.RUnlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.RLock()
		writeHeader(w, g.Name, g.Help, "gauge")
		for _, key := range sortedKeys(g.values) {
			fmt.Fprintf(w, "%s%s %s\n", g.Name, braces(formatLabels(g.Labels, key)), formatValue(g.values[key]))
		}
		g.mu.RUnlock()
	}

	for _, name := range sortedKeys(r.histograms) {
		h := r.histograms[name]
		h.mu.RLock()
		writeHeader(w, h.Name, h.Help, "histogram")
		for _, key := range sortedKeys(h.counts) {
			counts := h.counts[key]
			labels := formatLabels(h.Labels, key)
			prefix := labels
			if prefix != "" {
				prefix += ","
			}

			cumulative := 0
			for i, bucket := range h.Buckets {
				cumulative += counts[i]
				fmt.Fprintf(w, "%s_bucket{%sle=\"%s\"} %d\n", h.Name, prefix, formatValue(bucket), cumulative)
			}
			cumulative += counts[len(h.Buckets)]
			fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", h.Name, prefix, cumulative)
			fmt.Fprintf(w, "%s_sum%s %s\n", h.Name, braces(labels), formatValue(h.sums[key]))
			fmt.Fprintf(w, "%s_count%s %d\n", h.Name, braces(labels), cumulative)
		}
		h.mu.RUnlock()
	}
}

func writeHeader(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func formatLabels(names []string, key string) string {
	if len(names) == 0 {
		return ""
	}
	vals := strings.Split(key, labelSep)
	parts := make([]string, len(names))
	for i, name := range names {
		val := ""
		if i < len(vals) {
			val = vals[i]
		}
		parts[i] = fmt.Sprintf("%s=%q", name, val)
	}
	return strings.Join(parts, ",")
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RecordRequest 记录HTTP请求指标
func (r *MetricsRegistry) RecordRequest(method, path string, status int, duration time.Duration) {
	r.GetCounter(HTTPRequestsTotal).Inc(method, path, strconv.Itoa(status))
	r.GetHistogram(HTTPRequestDuration).Observe(duration.Seconds(), method, path)
}

// RecordValidation 记录一次校验运行及其违规
func (r *MetricsRegistry) RecordValidation(report *rules.ValidationReport, duration time.Duration) {
	result := "valid"
	if !report.Valid {
		result = "invalid"
	}
	r.GetCounter(ValidationRunsTotal).Inc(result)
	r.GetHistogram(ValidationDuration).Observe(duration.Seconds())

	violations := r.GetCounter(ViolationsTotal)
	for _, v := range report.Violations {
		violations.Inc(string(v.Severity), v.ViolationType)
	}
	r.GetGauge(EquityScore).Set(report.Metrics.EquiteScore)
	r.GetCounter(ProposalsTotal).Add(float64(len(report.Proposals)))
}

// RecordValidationError 记录未能产出报告的校验运行
func (r *MetricsRegistry) RecordValidationError(duration time.Duration) {
	r.GetCounter(ValidationRunsTotal).Inc("error")
	r.GetHistogram(ValidationDuration).Observe(duration.Seconds())
}

// RecordProposals 记录生成的排班建议数
func (r *MetricsRegistry) RecordProposals(n int) {
	r.GetCounter(ProposalsTotal).Add(float64(n))
}

// RecordRuleEvaluations 累加规则求值统计，可直接作为 rules.RecorderFunc 使用
func (r *MetricsRegistry) RecordRuleEvaluations(deltas []rules.MetricsDelta) {
	c := r.GetCounter(RuleEvaluationsTotal)
	for _, d := range deltas {
		if d.Successes > 0 {
			c.Add(float64(d.Successes), d.RuleID, "success")
		}
		if d.Failures > 0 {
			c.Add(float64(d.Failures), d.RuleID, "failure")
		}
	}
}

// RecordFatigueUpdate 记录疲劳分更新，kind 为 event 或 recovery
func (r *MetricsRegistry) RecordFatigueUpdate(kind string) {
	r.GetCounter(FatigueUpdatesTotal).Inc(kind)
}

// SetRuleRejections 设置最近一次加载被拒绝的规则数
func (r *MetricsRegistry) SetRuleRejections(n int) {
	r.GetGauge(RuleCacheRejectsGauge).Set(float64(n))
}

// SetDBStats 按连接池统计更新连接数
func (r *MetricsRegistry) SetDBStats(stats sql.DBStats) {
	g := r.GetGauge(DBConnections)
	g.Set(float64(stats.InUse), "in_use")
	g.Set(float64(stats.Idle), "idle")
	g.Set(float64(stats.OpenConnections), "open")
}
