package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Operand 叶子条件的比较值，加载时已按字段类型转换
type Operand struct {
	raw   any
	value Value
	rel   *relativeTime
	list  bool
	elems []Operand
}

// Raw 返回定义中的原始值
func (o Operand) Raw() any { return o.raw }

// IsList 是否为数组操作数（in/between）
func (o Operand) IsList() bool { return o.list }

// Elems 数组操作数的元素
func (o Operand) Elems() []Operand { return o.elems }

// IsRelative 是否为相对时间（now±偏移）
func (o Operand) IsRelative() bool { return o.rel != nil }

// Resolve 求出运行时的值，相对时间以 now 为基准
func (o Operand) Resolve(now time.Time) Value {
	if o.list {
		vs := make([]Value, len(o.elems))
		for i, e := range o.elems {
			vs[i] = e.Resolve(now)
		}
		return ListValue(vs...)
	}
	if o.rel != nil {
		return TimeValue(o.rel.apply(now))
	}
	return o.value
}

type timeUnit int

const (
	unitMinute timeUnit = iota
	unitHour
	unitDay
	unitWeek
	unitMonth
)

var unitNames = map[string]timeUnit{
	"m": unitMinute, "min": unitMinute, "mins": unitMinute, "minute": unitMinute, "minutes": unitMinute,
	"h": unitHour, "hour": unitHour, "hours": unitHour, "heure": unitHour, "heures": unitHour,
	"d": unitDay, "day": unitDay, "days": unitDay, "jour": unitDay, "jours": unitDay,
	"w": unitWeek, "week": unitWeek, "weeks": unitWeek, "semaine": unitWeek, "semaines": unitWeek,
	"mo": unitMonth, "month": unitMonth, "months": unitMonth, "mois": unitMonth,
}

var relativePattern = regexp.MustCompile(`^now\s*(?:([+-])\s*(\d+)\s*([a-zA-Z]+))?$`)

// relativeTime now±n单位，按日历计算天、周、月
type relativeTime struct {
	n    int
	unit timeUnit
}

func (r relativeTime) apply(now time.Time) time.Time {
	switch r.unit {
	case unitMinute:
		return now.Add(time.Duration(r.n) * time.Minute)
	case unitHour:
		return now.Add(time.Duration(r.n) * time.Hour)
	case unitDay:
		return now.AddDate(0, 0, r.n)
	case unitWeek:
		return now.AddDate(0, 0, 7*r.n)
	default:
		return now.AddDate(0, r.n, 0)
	}
}

// parseRelative 解析 now、now-3days、now+12h 等写法；不是相对时间时 ok 为 false
func parseRelative(s string) (rel relativeTime, ok bool, err error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "now") {
		return relativeTime{}, false, nil
	}
	m := relativePattern.FindStringSubmatch(s)
	if m == nil {
		return relativeTime{}, true, fmt.Errorf("无法解析相对时间 %q", s)
	}
	if m[1] == "" {
		return relativeTime{}, true, nil
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return relativeTime{}, true, fmt.Errorf("无法解析相对时间 %q: %w", s, err)
	}
	unit, known := unitNames[strings.ToLower(m[3])]
	if !known {
		return relativeTime{}, true, fmt.Errorf("未知的时间单位 %q", m[3])
	}
	if m[1] == "-" {
		n = -n
	}
	return relativeTime{n: n, unit: unit}, true, nil
}

// operatorAllowed 运算符是否适用于字段类型
func operatorAllowed(kind Kind, op Operator) bool {
	switch kind {
	case KindAny:
		return true
	case KindList:
		return op == OpContains || op == OpIn
	case KindString:
		return op == OpEquals || op == OpNotEquals || op == OpContains || op == OpIn
	case KindNumber, KindTime:
		return op != OpContains
	case KindBool:
		return op == OpEquals || op == OpNotEquals || op == OpIn
	}
	return false
}

// coerceOperand 按字段类型转换比较值
func coerceOperand(f Field, op Operator, raw any) (Operand, error) {
	scalarKind := f.Kind
	if f.Kind == KindList {
		scalarKind = f.Elem
	}

	if op != OpIn && op != OpBetween {
		o, err := coerceScalar(scalarKind, raw)
		if err != nil {
			return Operand{}, err
		}
		o.raw = raw
		return o, nil
	}

	items, ok := asList(raw)
	if !ok {
		return Operand{}, fmt.Errorf("%s 运算符需要数组，实际为 %T", op, raw)
	}
	out := Operand{raw: raw, list: true, elems: make([]Operand, 0, len(items))}
	for i, item := range items {
		e, err := coerceScalar(scalarKind, item)
		if err != nil {
			return Operand{}, fmt.Errorf("第 %d 个元素: %w", i, err)
		}
		e.raw = item
		out.elems = append(out.elems, e)
	}

	if op == OpBetween {
		if len(out.elems) != 2 {
			return Operand{}, fmt.Errorf("between 需要 [下限, 上限] 两个元素，实际为 %d 个", len(out.elems))
		}
		ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		lo, hi := out.elems[0].Resolve(ref), out.elems[1].Resolve(ref)
		c, err := compareValues(lo, hi)
		if err != nil {
			return Operand{}, fmt.Errorf("between 的上下限不可比较: %w", err)
		}
		if c > 0 {
			return Operand{}, fmt.Errorf("between 下限 %s 大于上限 %s", lo, hi)
		}
	}
	return out, nil
}

func coerceScalar(kind Kind, raw any) (Operand, error) {
	if _, isList := asList(raw); isList {
		return Operand{}, fmt.Errorf("需要单个值，实际为数组")
	}
	switch kind {
	case KindString:
		switch v := raw.(type) {
		case string:
			return Operand{value: StringValue(v)}, nil
		case nil:
			return Operand{}, fmt.Errorf("值不能为空")
		default:
			nv, err := fromNative(v)
			if err != nil {
				return Operand{}, err
			}
			return Operand{value: StringValue(nv.String())}, nil
		}

	case KindNumber:
		if s, ok := raw.(string); ok {
			n, ok := parseNumber(s)
			if !ok {
				return Operand{}, fmt.Errorf("%q 不是数值", s)
			}
			return Operand{value: NumberValue(n)}, nil
		}
		v, err := fromNative(raw)
		if err != nil {
			return Operand{}, err
		}
		if v.Kind() != KindNumber {
			return Operand{}, fmt.Errorf("需要数值，实际为 %s", v.Kind())
		}
		return Operand{value: v}, nil

	case KindTime:
		switch v := raw.(type) {
		case time.Time:
			return Operand{value: TimeValue(v)}, nil
		case string:
			return timeOperand(v)
		}
		return Operand{}, fmt.Errorf("需要时间，实际为 %T", raw)

	case KindBool:
		switch v := raw.(type) {
		case bool:
			return Operand{value: BoolValue(v)}, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Operand{}, fmt.Errorf("%q 不是布尔值", v)
			}
			return Operand{value: BoolValue(b)}, nil
		}
		return Operand{}, fmt.Errorf("需要布尔值，实际为 %T", raw)

	case KindAny:
		if s, ok := raw.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "now") {
			if o, err := timeOperand(s); err == nil {
				return o, nil
			}
		}
		v, err := fromNative(raw)
		if err != nil {
			return Operand{}, err
		}
		return Operand{value: v}, nil
	}
	return Operand{}, fmt.Errorf("字段类型 %s 不支持比较", kind)
}

func timeOperand(s string) (Operand, error) {
	rel, isRel, err := parseRelative(s)
	if err != nil {
		return Operand{}, err
	}
	if isRel {
		return Operand{rel: &rel}, nil
	}
	t, ok := parseTime(s)
	if !ok {
		return Operand{}, fmt.Errorf("%q 不是有效时间", s)
	}
	return Operand{value: TimeValue(t)}, nil
}

func asList(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
