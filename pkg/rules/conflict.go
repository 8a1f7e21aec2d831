package rules

import (
	"fmt"
	"time"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictContradiction ConflictType = "contradiction"
	ConflictRangeOverlap  ConflictType = "range_overlap"
	ConflictInclusion     ConflictType = "inclusion_conflict"
)

// ConflictSeverity 冲突严重程度
type ConflictSeverity string

const (
	ConflictCritical ConflictSeverity = "critical"
	ConflictHigh     ConflictSeverity = "high"
	ConflictMedium   ConflictSeverity = "medium"
	ConflictLow      ConflictSeverity = "low"
)

// Conflict 两条规则之间的冲突
type Conflict struct {
	Type        ConflictType     `json:"type"`
	Severity    ConflictSeverity `json:"severity"`
	RuleIDs     []string         `json:"ruleIds"`
	Field       string           `json:"field"`
	Description string           `json:"description"`
}

// conflictRef 比较相对时间时使用的固定基准
var conflictRef = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// DetectConflicts 检测启用规则之间的冲突
//
// 同类型的两条规则在共享字段上条件可以同时成立，且动作结论不一致时视为冲突。
// 只分析 AND 路径上的叶子条件，OR 分支不参与判断。
func DetectConflicts(rules []*Rule) []Conflict {
	active := activeOnly(rules)
	var out []Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.Type != b.Type {
				continue
			}
			severity, ok := disagreement(a, b)
			if !ok {
				continue
			}
			field, kind, ok := overlapping(a, b)
			if !ok {
				continue
			}
			out = append(out, Conflict{
				Type:        kind,
				Severity:    severity,
				RuleIDs:     []string{a.ID, b.ID},
				Field:       field,
				Description: fmt.Sprintf("规则 %s 与 %s 在字段 %s 上条件重叠但结论不一致", a.Name, b.Name, field),
			})
		}
	}
	return out
}

// disagreement 判断两条规则的动作是否矛盾，并给出严重程度
func disagreement(a, b *Rule) (ConflictSeverity, bool) {
	best := ConflictSeverity("")
	rank := map[ConflictSeverity]int{ConflictLow: 1, ConflictMedium: 2, ConflictHigh: 3, ConflictCritical: 4}
	consider := func(s ConflictSeverity) {
		if rank[s] > rank[best] {
			best = s
		}
	}
	for _, x := range a.Actions {
		for _, y := range b.Actions {
			switch va := x.(type) {
			case *ValidateAction:
				vb, ok := y.(*ValidateAction)
				if !ok {
					continue
				}
				switch {
				case va.Severity != vb.Severity && va.ViolationType == vb.ViolationType:
					consider(ConflictCritical)
				case va.Severity != vb.Severity:
					consider(ConflictLow)
				case va.Severity == SeverityError && va.Message.String() != vb.Message.String():
					consider(ConflictHigh)
				}
			case *AssignAction:
				ab, ok := y.(*AssignAction)
				if !ok || va.AssignmentType != ab.AssignmentType {
					continue
				}
				switch {
				case va.Count != ab.Count:
					consider(ConflictMedium)
				case va.Criteria.Experience != ab.Criteria.Experience:
					consider(ConflictLow)
				}
			}
		}
	}
	return best, best != ""
}

// overlapping 两条规则在所有共享字段上都可同时成立时，返回第一个共享字段
func overlapping(a, b *Rule) (string, ConflictType, bool) {
	la := conjunctiveLeaves(a.Conditions)
	lb := conjunctiveLeaves(b.Conditions)
	field := ""
	var kind ConflictType
	for _, x := range la {
		for _, y := range lb {
			if x.Field != y.Field {
				continue
			}
			sx, okx := leafSet(x)
			sy, oky := leafSet(y)
			if !okx || !oky {
				continue
			}
			k, ok := sx.overlap(sy)
			if !ok {
				return "", "", false
			}
			if field == "" {
				field, kind = x.Field, k
			}
		}
	}
	return field, kind, field != ""
}

func conjunctiveLeaves(c Condition) []*Leaf {
	switch n := c.(type) {
	case *Leaf:
		return []*Leaf{n}
	case *Group:
		if n.Operator != LogicAnd {
			return nil
		}
		var out []*Leaf
		for _, child := range n.Conditions {
			out = append(out, conjunctiveLeaves(child)...)
		}
		return out
	}
	return nil
}

type bound struct {
	v         Value
	inclusive bool
}

// valueSet 叶子条件允许的取值：离散点集或区间（nil 边界表示无穷）
type valueSet struct {
	points []Value
	lo, hi *bound
}

func (s valueSet) discrete() bool { return s.points != nil }

func leafSet(l *Leaf) (valueSet, bool) {
	if l.Negated {
		return valueSet{}, false
	}
	v := l.operand.Resolve(conflictRef)
	switch l.Operator {
	case OpEquals:
		return valueSet{points: []Value{v}}, true
	case OpIn:
		return valueSet{points: append([]Value{}, v.List()...)}, true
	case OpGreater:
		return valueSet{lo: &bound{v: v}}, true
	case OpLess:
		return valueSet{hi: &bound{v: v}}, true
	case OpBetween:
		bs := v.List()
		if len(bs) != 2 {
			return valueSet{}, false
		}
		return valueSet{lo: &bound{v: bs[0], inclusive: true}, hi: &bound{v: bs[1], inclusive: true}}, true
	}
	return valueSet{}, false
}

func (s valueSet) contains(v Value) bool {
	if s.lo != nil {
		c, err := compareValues(v, s.lo.v)
		if err != nil || c < 0 || (c == 0 && !s.lo.inclusive) {
			return false
		}
	}
	if s.hi != nil {
		c, err := compareValues(v, s.hi.v)
		if err != nil || c > 0 || (c == 0 && !s.hi.inclusive) {
			return false
		}
	}
	return true
}

func (s valueSet) overlap(o valueSet) (ConflictType, bool) {
	switch {
	case s.discrete() && o.discrete():
		shared := 0
		for _, p := range s.points {
			if memberOf(p, o.points) {
				shared++
			}
		}
		if shared == 0 {
			return "", false
		}
		if shared == len(s.points) && shared == len(o.points) {
			return ConflictContradiction, true
		}
		return ConflictInclusion, true
	case s.discrete() || o.discrete():
		points, rng := s, o
		if !s.discrete() {
			points, rng = o, s
		}
		for _, p := range points.points {
			if rng.contains(p) {
				return ConflictInclusion, true
			}
		}
		return "", false
	}

	lo := tighterLo(s.lo, o.lo)
	hi := tighterHi(s.hi, o.hi)
	if lo != nil && hi != nil {
		c, err := compareValues(lo.v, hi.v)
		if err != nil || c > 0 || (c == 0 && !(lo.inclusive && hi.inclusive)) {
			return "", false
		}
	}
	return ConflictRangeOverlap, true
}

func tighterLo(a, b *bound) *bound {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	c, err := compareValues(a.v, b.v)
	if err != nil {
		return a
	}
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	}
	return &bound{v: a.v, inclusive: a.inclusive && b.inclusive}
}

func tighterHi(a, b *bound) *bound {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	c, err := compareValues(a.v, b.v)
	if err != nil {
		return a
	}
	switch {
	case c < 0:
		return a
	case c > 0:
		return b
	}
	return &bound{v: a.v, inclusive: a.inclusive && b.inclusive}
}
