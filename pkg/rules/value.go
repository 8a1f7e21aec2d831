package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind 事实值类型
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindTime
	KindBool
	KindList
	KindAny // calc.* 等动态字段
)

// String 返回类型名
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindAny:
		return "any"
	default:
		return "invalid"
	}
}

// Value 事实值
type Value struct {
	kind Kind
	s    string
	n    float64
	t    time.Time
	b    bool
	list []Value
}

// StringValue 字符串值
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// NumberValue 数值
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

// TimeValue 时间值
func TimeValue(t time.Time) Value { return Value{kind: KindTime, t: t} }

// BoolValue 布尔值
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue 列表值
func ListValue(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// StringsValue 字符串列表
func StringsValue(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = StringValue(s)
	}
	return ListValue(vs...)
}

// Kind 返回类型
func (v Value) Kind() Kind { return v.kind }

// Num 返回数值
func (v Value) Num() float64 { return v.n }

// Str 返回字符串
func (v Value) Str() string { return v.s }

// Time 返回时间
func (v Value) Time() time.Time { return v.t }

// Bool 返回布尔值
func (v Value) Bool() bool { return v.b }

// List 返回列表
func (v Value) List() []Value { return v.list }

// Strings 返回字符串列表
func (v Value) Strings() []string {
	out := make([]string, 0, len(v.list))
	for _, e := range v.list {
		out = append(out, e.String())
	}
	return out
}

// Native 转换为 Go 原生值（供表达式求值使用）
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindTime:
		return v.t
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Native()
		}
		return out
	default:
		return nil
	}
}

// String 返回可读表示
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindTime:
		if h, m, sec := v.t.Clock(); h == 0 && m == 0 && sec == 0 {
			return v.t.Format("2006-01-02")
		}
		return v.t.Format("2006-01-02 15:04")
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.Strings(), ", ")
	default:
		return "?"
	}
}

// Equal 比较两个值是否相等（用于测试和冲突检测）
func (v Value) Equal(o Value) bool {
	eq, err := equalValues(v, o)
	return err == nil && eq
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// equalValues 带类型转换的相等比较；数值与数字字符串互转，时间按时刻比较
func equalValues(a, b Value) (bool, error) {
	if a.kind == KindList || b.kind == KindList {
		return false, fmt.Errorf("列表值不支持相等比较")
	}
	if a.kind == b.kind {
		switch a.kind {
		case KindString:
			return a.s == b.s, nil
		case KindNumber:
			return a.n == b.n, nil
		case KindTime:
			return a.t.Equal(b.t), nil
		case KindBool:
			return a.b == b.b, nil
		}
		return false, fmt.Errorf("无效的值类型 %s", a.kind)
	}
	if a.kind == KindString {
		a, b = b, a
	}
	if b.kind != KindString {
		return false, nil
	}
	switch a.kind {
	case KindNumber:
		f, ok := parseNumber(b.s)
		return ok && f == a.n, nil
	case KindTime:
		t, ok := parseTime(b.s)
		return ok && t.Equal(a.t), nil
	case KindBool:
		bv, err := strconv.ParseBool(b.s)
		return err == nil && bv == a.b, nil
	}
	return false, nil
}

// compareValues 有序比较，返回 -1/0/1；非数值非时间的操作数返回数据错误
func compareValues(a, b Value) (int, error) {
	an, bn, ok := numericPair(a, b)
	if ok {
		if math.IsNaN(an) || math.IsNaN(bn) {
			return 0, fmt.Errorf("数值为 NaN")
		}
		return cmpFloat(an, bn), nil
	}
	at, bt, ok := timePair(a, b)
	if ok {
		return at.Compare(bt), nil
	}
	return 0, fmt.Errorf("无法比较 %s(%s) 与 %s(%s)", a.kind, a, b.kind, b)
}

func numericPair(a, b Value) (float64, float64, bool) {
	toNum := func(v Value) (float64, bool) {
		switch v.kind {
		case KindNumber:
			return v.n, true
		case KindString:
			return parseNumber(v.s)
		}
		return 0, false
	}
	if a.kind != KindNumber && b.kind != KindNumber {
		return 0, 0, false
	}
	an, ok1 := toNum(a)
	bn, ok2 := toNum(b)
	return an, bn, ok1 && ok2
}

func timePair(a, b Value) (time.Time, time.Time, bool) {
	toTime := func(v Value) (time.Time, bool) {
		switch v.kind {
		case KindTime:
			return v.t, true
		case KindString:
			return parseTime(v.s)
		}
		return time.Time{}, false
	}
	if a.kind != KindTime && b.kind != KindTime {
		return time.Time{}, time.Time{}, false
	}
	at, ok1 := toTime(a)
	bt, ok2 := toTime(b)
	return at, bt, ok1 && ok2
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// fromNative 将解码后的原始值（JSON/YAML/表达式结果）转换为 Value
func fromNative(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case float64:
		return NumberValue(v), nil
	case float32:
		return NumberValue(float64(v)), nil
	case int:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case int32:
		return NumberValue(float64(v)), nil
	case uint64:
		return NumberValue(float64(v)), nil
	case time.Time:
		return TimeValue(v), nil
	case []string:
		return StringsValue(v), nil
	case []any:
		vs := make([]Value, 0, len(v))
		for _, e := range v {
			ev, err := fromNative(e)
			if err != nil {
				return Value{}, err
			}
			vs = append(vs, ev)
		}
		return ListValue(vs...), nil
	case nil:
		return Value{}, fmt.Errorf("值不能为空")
	default:
		return Value{}, fmt.Errorf("不支持的值类型 %T", raw)
	}
}
