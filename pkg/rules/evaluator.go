package rules

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// DataError 条件求值时的数据错误
type DataError struct {
	Field string
	Err   error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("字段 %s: %v", e.Field, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// Evaluator 条件求值器
type Evaluator struct {
	registry *Registry
}

// NewEvaluator 创建求值器
func NewEvaluator(reg *Registry) *Evaluator {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Evaluator{registry: reg}
}

// Evaluate 对事实求值条件
//
// 出错的叶子按不满足处理，OR 的其他分支照常求值；数据错误合并后与结果一并返回。
// panic 时结果为 false。
func (e *Evaluator) Evaluate(cond Condition, facts *Facts) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = false
			err = fmt.Errorf("条件求值 panic: %v", p)
		}
	}()
	var errs []error
	matched = e.eval(cond, facts, &errs)
	return matched, stderrors.Join(errs...)
}

func (e *Evaluator) eval(cond Condition, facts *Facts, errs *[]error) bool {
	switch c := cond.(type) {
	case *Group:
		if c.Operator == LogicOr {
			for _, child := range c.Conditions {
				if e.eval(child, facts, errs) {
					return true
				}
			}
			return false
		}
		for _, child := range c.Conditions {
			if !e.eval(child, facts, errs) {
				return false
			}
		}
		return true
	case *Leaf:
		ok, err := e.evalLeaf(c, facts)
		if err != nil {
			*errs = append(*errs, &DataError{Field: c.Field, Err: err})
			return false
		}
		return ok
	case nil:
		return true
	}
	*errs = append(*errs, fmt.Errorf("未知的条件类型 %T", cond))
	return false
}

func (e *Evaluator) evalLeaf(l *Leaf, facts *Facts) (bool, error) {
	get := l.field.Get
	if get == nil {
		f, ok := e.registry.Lookup(l.Field)
		if !ok {
			return false, fmt.Errorf("未知字段")
		}
		get = f.Get
	}
	actual, present := get(facts)
	if !present {
		// 缺失值只满足 not_equals，取反也不会让缺失值命中
		return l.Operator == OpNotEquals && !l.Negated, nil
	}

	ok, err := compare(l.Operator, actual, l.operand.Resolve(facts.Now))
	if err != nil {
		return false, err
	}
	if l.Negated {
		return !ok, nil
	}
	return ok, nil
}

// compare 按运算符比较实际值与操作数
func compare(op Operator, actual, expected Value) (bool, error) {
	switch op {
	case OpEquals:
		if actual.Kind() == KindList {
			return false, fmt.Errorf("列表字段不支持 equals")
		}
		return equalValues(actual, expected)

	case OpNotEquals:
		if actual.Kind() == KindList {
			return false, fmt.Errorf("列表字段不支持 not_equals")
		}
		eq, err := equalValues(actual, expected)
		return !eq, err

	case OpContains:
		switch actual.Kind() {
		case KindList:
			for _, item := range actual.List() {
				if eq, _ := equalValues(item, expected); eq {
					return true, nil
				}
			}
			return false, nil
		case KindString:
			return strings.Contains(actual.Str(), expected.String()), nil
		}
		return false, fmt.Errorf("contains 不适用于 %s 值", actual.Kind())

	case OpGreater, OpLess:
		c, err := compareValues(actual, expected)
		if err != nil {
			return false, err
		}
		if op == OpGreater {
			return c > 0, nil
		}
		return c < 0, nil

	case OpIn:
		candidates := expected.List()
		if actual.Kind() == KindList {
			for _, item := range actual.List() {
				if memberOf(item, candidates) {
					return true, nil
				}
			}
			return false, nil
		}
		return memberOf(actual, candidates), nil

	case OpBetween:
		bounds := expected.List()
		if len(bounds) != 2 {
			return false, fmt.Errorf("between 需要两个边界")
		}
		lo, err := compareValues(actual, bounds[0])
		if err != nil {
			return false, err
		}
		hi, err := compareValues(actual, bounds[1])
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	}
	return false, fmt.Errorf("未知的运算符 %q", op)
}

func memberOf(v Value, candidates []Value) bool {
	for _, c := range candidates {
		if eq, _ := equalValues(v, c); eq {
			return true
		}
	}
	return false
}
