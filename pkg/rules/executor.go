package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/model"
)

// Scope 动作执行时可见的运行上下文
type Scope struct {
	Pool    []*model.Staff
	Fatigue map[string]float64

	index *planIndex
}

// Executor 动作执行器
type Executor struct {
	registry *Registry
	scorer   *fatigue.Scorer
	newID    func() string
}

// NewExecutor 创建执行器；scorer 为空时不按疲劳等级定级
func NewExecutor(reg *Registry, scorer *fatigue.Scorer) *Executor {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Executor{registry: reg, scorer: scorer, newID: uuid.NewString}
}

// Apply 按声明顺序执行规则的全部动作
//
// 任一动作出错时返回错误，本次触发的产出作废。
func (x *Executor) Apply(rule *Rule, facts *Facts, scope *Scope) (Outcome, error) {
	facts.resetFiring()
	defer facts.resetFiring()

	var out Outcome
	for i, action := range rule.Actions {
		switch act := action.(type) {
		case *ValidateAction:
			out.Violations = append(out.Violations, x.validate(rule, act, facts))
		case *NotifyAction:
			out.Suggestions = append(out.Suggestions, x.notify(rule, act, facts))
		case *AssignAction:
			p, err := x.assign(rule, act, facts, scope)
			if err != nil {
				return Outcome{}, fmt.Errorf("动作 %d (assign): %w", i, err)
			}
			out.Proposals = append(out.Proposals, p)
		case *CalculateAction:
			v, err := evalExpression(act.program, x.registry, facts)
			if err != nil {
				return Outcome{}, fmt.Errorf("动作 %d (calculate %s): %w", i, act.Target, err)
			}
			facts.SetCalc(act.Target, v)
		default:
			return Outcome{}, fmt.Errorf("动作 %d: 未知的动作类型 %T", i, action)
		}
	}
	return out, nil
}

func (x *Executor) validate(rule *Rule, act *ValidateAction, facts *Facts) Violation {
	return Violation{
		ID:            x.newID(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Severity:      x.severity(rule, act, facts),
		Message:       act.Message.Render(x.registry, facts),
		ViolationType: act.ViolationType,
		AssignmentID:  facts.assignmentID(),
		UserID:        facts.userID(),
	}
}

// severity 引用疲劳分的规则按人员疲劳等级定级：critique 为 error，alerte 为 warning；
// 等级正常或缺少疲劳分时沿用声明的级别
func (x *Executor) severity(rule *Rule, act *ValidateAction, facts *Facts) Severity {
	if x.scorer == nil || facts.Fatigue == nil || !rule.References("metrics.fatigueScore") {
		return act.Severity
	}
	switch x.scorer.Level(*facts.Fatigue) {
	case fatigue.LevelCritique:
		return SeverityError
	case fatigue.LevelAlerte:
		return SeverityWarning
	}
	return act.Severity
}

func (x *Executor) notify(rule *Rule, act *NotifyAction, facts *Facts) Suggestion {
	s := Suggestion{
		RuleID:       rule.ID,
		Message:      act.Suggestion.Render(x.registry, facts),
		AssignmentID: facts.assignmentID(),
		UserID:       facts.userID(),
	}
	if facts.HasDay {
		s.Date = model.DayKey(facts.Day)
	}
	return s
}

func (x *Executor) assign(rule *Rule, act *AssignAction, facts *Facts, scope *Scope) (AssignmentProposal, error) {
	day, ok := facts.referenceDay()
	if !ok {
		return AssignmentProposal{}, fmt.Errorf("缺少日期上下文")
	}
	if scope == nil {
		scope = &Scope{}
	}
	if scope.index == nil {
		scope.index = newPlanIndex(scope.Pool, nil)
	}
	dayKey := model.DayKey(day)

	requireAvailable := act.Criteria.Available == nil || *act.Criteria.Available
	candidates := make([]*model.Staff, 0, len(scope.Pool))
	for _, s := range scope.Pool {
		if act.Criteria.Experience != "" && !strings.EqualFold(s.Experience, act.Criteria.Experience) {
			continue
		}
		if requireAvailable && (!s.Available || s.OnLeave(dayKey) || scope.index.assignedOn(s.ID, dayKey)) {
			continue
		}
		candidates = append(candidates, s)
	}
	x.sortCandidates(candidates, act.Criteria, scope, day)

	n := act.Count
	if n > len(candidates) {
		n = len(candidates)
	}
	chosen := candidates[:n]
	ids := make([]string, 0, n)
	names := make([]string, 0, n)
	for _, s := range chosen {
		ids = append(ids, s.ID)
		names = append(names, s.Name)
	}

	p := AssignmentProposal{
		ID:             x.newID(),
		RuleID:         rule.ID,
		Date:           dayKey,
		AssignmentType: act.AssignmentType,
		ShiftType:      act.ShiftType,
		UserCriteria:   act.Criteria,
		Count:          act.Count,
		UserIDs:        ids,
		Shortfall:      act.Count - n,
	}
	scope.index.reserve(p, day)
	facts.setAssignees(ids, names)
	return p, nil
}

func (x *Executor) sortCandidates(cands []*model.Staff, c UserCriteria, scope *Scope, day time.Time) {
	desc := c.Order == "desc"
	var key func(s *model.Staff) float64
	switch c.SortBy {
	case SortByFatigue:
		key = func(s *model.Staff) float64 { return scope.Fatigue[s.ID] }
	case SortByGuardCount:
		key = func(s *model.Staff) float64 { return float64(scope.index.guardsInMonth(s.ID, day)) }
	case SortByExperienceYears:
		key = func(s *model.Staff) float64 { return s.ExperienceYears }
	case SortByName:
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].Name != cands[j].Name {
				return (cands[i].Name < cands[j].Name) != desc
			}
			return cands[i].ID < cands[j].ID
		})
		return
	default:
		// 未指定排序时保持人员池顺序
		return
	}
	sort.SliceStable(cands, func(i, j int) bool {
		ki, kj := key(cands[i]), key(cands[j])
		if ki != kj {
			return (ki < kj) != desc
		}
		return cands[i].ID < cands[j].ID
	})
}
