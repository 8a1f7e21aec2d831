package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/logger"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/stats"
)

// 运行阶段
const (
	PhaseLoadingRules = "LOADING_RULES"
	PhaseEvaluating   = "EVALUATING"
	PhaseAggregating  = "AGGREGATING"
	PhaseDone         = "DONE"
)

// MaxGenerationDays 单次生成允许的最大天数
const MaxGenerationDays = 93

// ValidationInput 验证输入
type ValidationInput struct {
	Assignments  []*model.Assignment `json:"assignments"`
	Staff        []*model.Staff      `json:"staff,omitempty"`
	History      []*model.Assignment `json:"history,omitempty"`
	Requirements []model.Requirement `json:"requirements,omitempty"`
	Holidays     []string            `json:"holidays,omitempty"` // YYYY-MM-DD
	Now          time.Time           `json:"now,omitempty"`
}

// GenerationCriteria 生成条件
type GenerationCriteria struct {
	StartDate string              `json:"startDate"` // YYYY-MM-DD
	EndDate   string              `json:"endDate"`   // YYYY-MM-DD
	Existing  []*model.Assignment `json:"existing,omitempty"`
	Holidays  []string            `json:"holidays,omitempty"`
	Now       time.Time           `json:"now,omitempty"`
}

// RejectedItem 因输入契约错误被跳过的排班
type RejectedItem struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// ReportMetrics 报告汇总指标
type ReportMetrics struct {
	EquiteScore        float64  `json:"equiteScore"`
	FatigueScore       *float64 `json:"fatigueScore,omitempty"`
	CoveragePercentage *float64 `json:"coveragePercentage,omitempty"`
	ConflictsDetected  int      `json:"conflictsDetected"`
	TotalAssignments   int      `json:"totalAssignments"`
}

// ValidationReport 验证报告
type ValidationReport struct {
	ID          string               `json:"id"`
	Valid       bool                 `json:"valid"`
	Violations  []Violation          `json:"violations"`
	Suggestions []Suggestion         `json:"suggestions"`
	Proposals   []AssignmentProposal `json:"proposals"`
	Rejected    []RejectedItem       `json:"rejected,omitempty"`
	Metrics     ReportMetrics        `json:"metrics"`
	EvaluatedAt time.Time            `json:"evaluatedAt"`
}

// Engine 规则引擎
type Engine struct {
	source   RuleSource
	registry *Registry
	scorer   *fatigue.Scorer
	recorder MetricsRecorder
	fairness *stats.FairnessAnalyzer
	coverage *stats.CoverageAnalyzer
	log      *logger.RuleEngineLogger
	now      func() time.Time
}

// Option 引擎选项
type Option func(*Engine)

// WithScorer 设置疲劳计分器
func WithScorer(s *fatigue.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithRecorder 设置统计写入器
func WithRecorder(r MetricsRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger 设置日志器
func WithLogger(l *logger.RuleEngineLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRegistry 设置字段注册表，需与编译规则时使用的一致
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithGuardTypes 设置参与公平性统计的排班类型
func WithGuardTypes(types ...model.AssignmentType) Option {
	return func(e *Engine) { e.fairness = stats.NewFairnessAnalyzer(types...) }
}

// NewEngine 创建规则引擎
func NewEngine(source RuleSource, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		registry: DefaultRegistry(),
		fairness: stats.NewFairnessAnalyzer(),
		coverage: stats.NewCoverageAnalyzer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewRuleEngineLogger()
	}
	return e
}

// Scorer 返回疲劳计分器（可能为空）
func (e *Engine) Scorer() *fatigue.Scorer {
	return e.scorer
}

// Source 返回规则源
func (e *Engine) Source() RuleSource {
	return e.source
}

// run 一次运行的状态
type run struct {
	id        string
	matcher   *Matcher
	executor  *Executor
	collector *MetricsCollector
	log       *logger.RuleEngineLogger
}

func (e *Engine) newRun(id string) *run {
	collector := NewMetricsCollector()
	return &run{
		id:        id,
		matcher:   NewMatcher(NewEvaluator(e.registry), collector, e.log),
		executor:  NewExecutor(e.registry, e.scorer),
		collector: collector,
		log:       e.log,
	}
}

// fire 求值并执行一条规则；出错或 panic 的规则计为失败，产出作废
func (r *run) fire(rule *Rule, facts *Facts, scope *Scope) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.collector.Fail(rule.ID)
			r.log.RuleFailed(r.id, rule.ID, fmt.Errorf("panic: %v", p))
			out = Outcome{}
		}
	}()
	if !r.matcher.Matches(rule, facts) {
		return Outcome{}
	}
	out, err := r.executor.Apply(rule, facts, scope)
	if err != nil {
		r.collector.Fail(rule.ID)
		r.log.RuleFailed(r.id, rule.ID, err)
		return Outcome{}
	}
	r.collector.Fired(rule.ID)
	return out
}

func (e *Engine) loadRules(ctx context.Context) (validation, generation []*Rule, err error) {
	rules, err := e.source.ActiveRules(ctx)
	if err != nil {
		return nil, nil, errors.RuleSourceUnavailable(err)
	}
	sorted := activeOnly(rules)
	SortRules(sorted)
	for _, r := range sorted {
		switch r.Type {
		case RuleValidation:
			validation = append(validation, r)
		case RuleGeneration:
			generation = append(generation, r)
		}
	}
	return validation, generation, nil
}

// RunValidation 对一批排班执行验证规则
func (e *Engine) RunValidation(ctx context.Context, in ValidationInput) (*ValidationReport, error) {
	started := time.Now()
	runID := uuid.NewString()
	now := in.Now
	if now.IsZero() {
		now = e.now()
	}

	e.log.Phase(runID, PhaseLoadingRules)
	validationRules, generationRules, err := e.loadRules(ctx)
	if err != nil {
		return nil, err
	}

	accepted, rejected := e.screen(runID, in)
	e.log.RunStarted(runID, "validation", len(validationRules)+len(generationRules), len(accepted))

	report := &ValidationReport{
		ID:          runID,
		Violations:  []Violation{},
		Suggestions: []Suggestion{},
		Proposals:   []AssignmentProposal{},
		Rejected:    rejected,
		EvaluatedAt: now,
	}

	ix := newPlanIndex(in.Staff, in.Holidays)
	all := make([]*model.Assignment, 0, len(in.History)+len(accepted))
	for _, h := range in.History {
		if h != nil && h.UserID != "" {
			ix.add(h)
			all = append(all, h)
		}
	}
	for _, a := range accepted {
		ix.add(a)
		all = append(all, a)
	}

	var coverage *stats.CoverageMetrics
	if len(in.Requirements) > 0 {
		coverage = e.coverage.Analyze(in.Requirements, accepted)
		ix.coverage = coverage.DailyCoverage
	}

	users := distinctUsers(accepted)
	// 人员池也需要基线分，生成规则按疲劳度挑选候选人
	running := e.fatigueSnapshot(ctx, mergeIDs(users, staffIDs(in.Staff)))

	eligible := users
	if len(in.Staff) > 0 {
		eligible = staffIDs(in.Staff)
	}
	counts := e.fairness.Counts(all, eligible)
	equity := stats.EquityScore(counts)

	r := e.newRun(runID)
	e.log.Phase(runID, PhaseEvaluating)

	ordered := make([]*model.Assignment, len(accepted))
	copy(ordered, accepted)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartDate.Before(ordered[j].StartDate)
	})

	var maxFatigue *float64
	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeTimeout, "验证运行被取消")
		}
		facts := &Facts{
			Now:             now,
			Assignment:      a,
			User:            ix.staff[a.UserID],
			Day:             model.DayOf(a.StartDate),
			HasDay:          true,
			Holiday:         ix.holidays[a.Day()],
			UserStats:       ix.userStats(a),
			Planning:        ix.planningStats(a.Day()),
			Equity:          floatPtr(equity),
			EquityDeviation: floatPtr(stats.Deviation(counts, a.UserID)),
		}
		if score, ok := running[a.UserID]; ok {
			projected := score + e.scorer.Points(a)
			facts.Fatigue = floatPtr(score)
			facts.ProjectedFatigue = floatPtr(projected)
			running[a.UserID] = projected
			if maxFatigue == nil || projected > *maxFatigue {
				maxFatigue = floatPtr(projected)
			}
		}
		for _, rule := range validationRules {
			out := r.fire(rule, facts, nil)
			report.Violations = append(report.Violations, out.Violations...)
			report.Suggestions = append(report.Suggestions, out.Suggestions...)
		}
	}

	if len(generationRules) > 0 {
		scope := &Scope{Pool: in.Staff, Fatigue: running, index: ix}
		for _, day := range distinctDays(ordered) {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, errors.CodeTimeout, "验证运行被取消")
			}
			facts := ix.dayFacts(day, now)
			facts.Equity = floatPtr(equity)
			for _, rule := range generationRules {
				out := r.fire(rule, facts, scope)
				report.Suggestions = append(report.Suggestions, out.Suggestions...)
				report.Proposals = append(report.Proposals, out.Proposals...)
			}
		}
	}

	e.log.Phase(runID, PhaseAggregating)
	report.Valid = true
	for _, v := range report.Violations {
		if v.Severity == SeverityError {
			report.Valid = false
			report.Metrics.ConflictsDetected++
		}
	}
	report.Metrics.EquiteScore = equity
	report.Metrics.FatigueScore = maxFatigue
	report.Metrics.TotalAssignments = len(accepted)
	if coverage != nil {
		report.Metrics.CoveragePercentage = floatPtr(coverage.OverallCoverage)
	}

	e.log.Phase(runID, PhaseDone)
	e.record(r.collector)
	e.log.RunComplete(runID, time.Since(started), report.Valid, len(report.Violations))
	return report, nil
}

// RunGeneration 按日期范围执行生成规则，返回排班建议
func (e *Engine) RunGeneration(ctx context.Context, criteria GenerationCriteria, pool []*model.Staff) ([]AssignmentProposal, error) {
	started := time.Now()
	runID := uuid.NewString()
	now := criteria.Now
	if now.IsZero() {
		now = e.now()
	}

	days, err := generationDays(criteria)
	if err != nil {
		return nil, err
	}

	e.log.Phase(runID, PhaseLoadingRules)
	_, generationRules, err := e.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	e.log.RunStarted(runID, "generation", len(generationRules), len(days))

	ix := newPlanIndex(pool, criteria.Holidays)
	for _, a := range criteria.Existing {
		if a != nil && a.UserID != "" {
			ix.add(a)
		}
	}
	ids := staffIDs(pool)
	scope := &Scope{Pool: pool, Fatigue: e.fatigueSnapshot(ctx, ids), index: ix}
	counts := e.fairness.Counts(criteria.Existing, ids)
	equity := stats.EquityScore(counts)

	r := e.newRun(runID)
	e.log.Phase(runID, PhaseEvaluating)
	proposals := []AssignmentProposal{}
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeTimeout, "生成运行被取消")
		}
		facts := ix.dayFacts(day, now)
		facts.Equity = floatPtr(equity)
		for _, rule := range generationRules {
			out := r.fire(rule, facts, scope)
			proposals = append(proposals, out.Proposals...)
		}
	}

	e.log.Phase(runID, PhaseAggregating)
	e.log.Phase(runID, PhaseDone)
	e.record(r.collector)
	e.log.RunComplete(runID, time.Since(started), true, 0)
	return proposals, nil
}

func generationDays(c GenerationCriteria) ([]time.Time, error) {
	start, err := time.Parse(model.DateLayout, c.StartDate)
	if err != nil {
		return nil, errors.InvalidInput("startDate", "格式应为 YYYY-MM-DD")
	}
	end, err := time.Parse(model.DateLayout, c.EndDate)
	if err != nil {
		return nil, errors.InvalidInput("endDate", "格式应为 YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, errors.InvalidInput("endDate", "不能早于 startDate")
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
		if len(days) > MaxGenerationDays {
			return nil, errors.InvalidInput("endDate", fmt.Sprintf("日期范围不能超过 %d 天", MaxGenerationDays))
		}
	}
	return days, nil
}

// screen 过滤违反输入契约的排班
func (e *Engine) screen(runID string, in ValidationInput) ([]*model.Assignment, []RejectedItem) {
	known := make(map[string]bool, len(in.Staff))
	for _, s := range in.Staff {
		known[s.ID] = true
	}
	seen := make(map[string]bool, len(in.Assignments))
	accepted := make([]*model.Assignment, 0, len(in.Assignments))
	var rejected []RejectedItem

	for i, a := range in.Assignments {
		reason := ""
		switch {
		case a == nil:
			reason = "排班为空"
		case a.UserID == "":
			reason = "缺少 userId"
		case a.Type == "":
			reason = "缺少 type"
		case a.StartDate.IsZero():
			reason = "缺少 startDate"
		case a.EndDate.Before(a.StartDate):
			reason = "结束时间早于开始时间"
		case len(in.Staff) > 0 && !known[a.UserID]:
			reason = fmt.Sprintf("未知人员 %s", a.UserID)
		case a.ID != "" && seen[a.ID]:
			reason = fmt.Sprintf("排班ID重复: %s", a.ID)
		}
		if reason != "" {
			item := RejectedItem{Index: i, Reason: reason}
			if a != nil {
				item.ID = a.ID
			}
			rejected = append(rejected, item)
			e.log.InputRejected(runID, item.ID, reason)
			continue
		}
		if a.ID != "" {
			seen[a.ID] = true
		}
		accepted = append(accepted, a)
	}
	return accepted, rejected
}

// fatigueSnapshot 读取基线疲劳分；未配置计分器时返回空
func (e *Engine) fatigueSnapshot(ctx context.Context, users []string) map[string]float64 {
	if e.scorer == nil {
		return map[string]float64{}
	}
	return e.scorer.Snapshot(ctx, users)
}

func (e *Engine) record(c *MetricsCollector) {
	if e.recorder == nil {
		return
	}
	if deltas := c.Deltas(); len(deltas) > 0 {
		e.recorder.Record(deltas)
	}
}

func distinctUsers(assignments []*model.Assignment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range assignments {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			out = append(out, a.UserID)
		}
	}
	return out
}

func distinctDays(assignments []*model.Assignment) []time.Time {
	seen := make(map[string]bool)
	var out []time.Time
	for _, a := range assignments {
		key := a.Day()
		if !seen[key] {
			seen[key] = true
			out = append(out, model.DayOf(a.StartDate))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func staffIDs(staff []*model.Staff) []string {
	out := make([]string, 0, len(staff))
	for _, s := range staff {
		out = append(out, s.ID)
	}
	return out
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
