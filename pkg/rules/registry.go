package rules

import (
	"sort"
	"strings"
	"time"

	"github.com/paiban/planrules/pkg/model"
)

// CalcPrefix 计算结果的动态命名空间
const CalcPrefix = "calc."

// Field 可引用的事实字段
type Field struct {
	Path string
	Kind Kind
	Elem Kind // Kind 为 KindList 时的元素类型
	Get  func(*Facts) (Value, bool)
}

// Registry 字段路径到访问器的映射
type Registry struct {
	fields map[string]Field
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 返回内置字段注册表
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry 创建包含全部内置字段的注册表
func NewRegistry() *Registry {
	r := &Registry{fields: make(map[string]Field)}
	registerAssignmentFields(r)
	registerUserFields(r)
	registerDateFields(r)
	registerPlanningFields(r)
	registerMetricFields(r)
	registerFiringFields(r)
	r.Register(Field{Path: "now", Kind: KindTime, Get: func(f *Facts) (Value, bool) {
		return TimeValue(f.Now), !f.Now.IsZero()
	}})
	return r
}

// Register 注册字段，同名覆盖
func (r *Registry) Register(f Field) {
	r.fields[f.Path] = f
}

// Lookup 查找字段；calc.<name> 总是可解析
func (r *Registry) Lookup(path string) (Field, bool) {
	if f, ok := r.fields[path]; ok {
		return f, true
	}
	if name, ok := strings.CutPrefix(path, CalcPrefix); ok && validIdent(name) {
		return Field{Path: path, Kind: KindAny, Get: func(f *Facts) (Value, bool) {
			return f.Calc(name)
		}}, true
	}
	return Field{}, false
}

// Resolve 读取字段值
func (r *Registry) Resolve(path string, facts *Facts) (Value, bool) {
	f, ok := r.Lookup(path)
	if !ok {
		return Value{}, false
	}
	return f.Get(facts)
}

// Paths 返回所有静态字段路径（已排序）
func (r *Registry) Paths() []string {
	paths := make([]string, 0, len(r.fields))
	for p := range r.fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot 将事实展开为嵌套 map，缺失字段不出现
func (r *Registry) Snapshot(facts *Facts) map[string]any {
	out := map[string]any{}
	for path, f := range r.fields {
		v, ok := safeGet(f, facts)
		if !ok {
			continue
		}
		root, leaf, nested := strings.Cut(path, ".")
		if !nested {
			out[root] = v.Native()
			continue
		}
		m, _ := out[root].(map[string]any)
		if m == nil {
			m = map[string]any{}
			out[root] = m
		}
		m[leaf] = v.Native()
	}
	calc := make(map[string]any, len(facts.calc))
	for name, v := range facts.calc {
		calc[name] = v.Native()
	}
	out["calc"] = calc
	return out
}

func safeGet(f Field, facts *Facts) (v Value, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = Value{}, false
		}
	}()
	return f.Get(facts)
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func strField(path string, get func(*Facts) (string, bool)) Field {
	return Field{Path: path, Kind: KindString, Get: func(f *Facts) (Value, bool) {
		s, ok := get(f)
		if !ok || s == "" {
			return Value{}, false
		}
		return StringValue(s), true
	}}
}

func numField(path string, get func(*Facts) (float64, bool)) Field {
	return Field{Path: path, Kind: KindNumber, Get: func(f *Facts) (Value, bool) {
		n, ok := get(f)
		if !ok {
			return Value{}, false
		}
		return NumberValue(n), true
	}}
}

func ptrField(path string, get func(*Facts) *float64) Field {
	return numField(path, func(f *Facts) (float64, bool) {
		p := get(f)
		if p == nil {
			return 0, false
		}
		return *p, true
	})
}

func timeField(path string, get func(*Facts) (time.Time, bool)) Field {
	return Field{Path: path, Kind: KindTime, Get: func(f *Facts) (Value, bool) {
		t, ok := get(f)
		if !ok || t.IsZero() {
			return Value{}, false
		}
		return TimeValue(t), true
	}}
}

func boolField(path string, get func(*Facts) (bool, bool)) Field {
	return Field{Path: path, Kind: KindBool, Get: func(f *Facts) (Value, bool) {
		b, ok := get(f)
		if !ok {
			return Value{}, false
		}
		return BoolValue(b), true
	}}
}

func stringsField(path string, get func(*Facts) ([]string, bool)) Field {
	return Field{Path: path, Kind: KindList, Elem: KindString, Get: func(f *Facts) (Value, bool) {
		ss, ok := get(f)
		if !ok {
			return Value{}, false
		}
		return StringsValue(ss), true
	}}
}

func registerAssignmentFields(r *Registry) {
	a := func(get func(*model.Assignment) string) func(*Facts) (string, bool) {
		return func(f *Facts) (string, bool) {
			if f.Assignment == nil {
				return "", false
			}
			return get(f.Assignment), true
		}
	}
	r.Register(strField("assignment.id", a(func(x *model.Assignment) string { return x.ID })))
	r.Register(strField("assignment.type", a(func(x *model.Assignment) string { return string(x.Type) })))
	r.Register(strField("assignment.shiftType", a(func(x *model.Assignment) string { return x.ShiftType })))
	r.Register(strField("assignment.specialty", a(func(x *model.Assignment) string { return x.Specialty })))
	r.Register(strField("assignment.status", a(func(x *model.Assignment) string { return x.Status })))

	r.Register(timeField("assignment.startDate", func(f *Facts) (time.Time, bool) {
		if f.Assignment == nil {
			return time.Time{}, false
		}
		return f.Assignment.StartDate, true
	}))
	r.Register(timeField("assignment.endDate", func(f *Facts) (time.Time, bool) {
		if f.Assignment == nil {
			return time.Time{}, false
		}
		return f.Assignment.EndDate, true
	}))
	r.Register(numField("assignment.durationHours", func(f *Facts) (float64, bool) {
		if f.Assignment == nil {
			return 0, false
		}
		return f.Assignment.DurationHours(), true
	}))
	r.Register(numField("assignment.roomCount", func(f *Facts) (float64, bool) {
		if f.Assignment == nil || f.Assignment.RoomCount == 0 {
			return 0, false
		}
		return float64(f.Assignment.RoomCount), true
	}))
	r.Register(boolField("assignment.pediatric", func(f *Facts) (bool, bool) {
		if f.Assignment == nil {
			return false, false
		}
		return f.Assignment.Pediatric, true
	}))
	r.Register(boolField("assignment.overlapsExisting", func(f *Facts) (bool, bool) {
		if f.UserStats == nil {
			return false, false
		}
		return f.UserStats.OverlapsExisting, true
	}))
}

func registerUserFields(r *Registry) {
	staff := func(get func(*model.Staff) string) func(*Facts) (string, bool) {
		return func(f *Facts) (string, bool) {
			if f.User == nil {
				return "", false
			}
			return get(f.User), true
		}
	}
	r.Register(strField("user.id", func(f *Facts) (string, bool) {
		id := f.userID()
		return id, id != ""
	}))
	r.Register(strField("user.role", staff(func(s *model.Staff) string { return s.Role })))
	r.Register(strField("user.experience", staff(func(s *model.Staff) string { return s.Experience })))
	r.Register(stringsField("user.specialties", func(f *Facts) ([]string, bool) {
		if f.User == nil {
			return nil, false
		}
		return f.User.Specialties, true
	}))
	r.Register(timeField("user.lastGuardDate", func(f *Facts) (time.Time, bool) {
		if f.UserStats == nil || f.UserStats.LastGuardDate == nil {
			return time.Time{}, false
		}
		return *f.UserStats.LastGuardDate, true
	}))

	stat := func(get func(*UserStats) int) func(*Facts) (float64, bool) {
		return func(f *Facts) (float64, bool) {
			if f.UserStats == nil {
				return 0, false
			}
			return float64(get(f.UserStats)), true
		}
	}
	r.Register(numField("user.guardsThisMonth", stat(func(s *UserStats) int { return s.GuardsThisMonth })))
	r.Register(numField("user.astreintesThisMonth", stat(func(s *UserStats) int { return s.AstreintesThisMonth })))
	r.Register(numField("user.consecutiveGuards", stat(func(s *UserStats) int { return s.ConsecutiveGuards })))
	r.Register(ptrField("user.restHours", func(f *Facts) *float64 {
		if f.UserStats == nil {
			return nil
		}
		return f.UserStats.RestHours
	}))

	r.Register(numField("user.leaveDaysUsed", func(f *Facts) (float64, bool) {
		if f.User == nil {
			return 0, false
		}
		return f.User.LeaveDaysUsed, true
	}))
	r.Register(numField("user.leaveQuota", func(f *Facts) (float64, bool) {
		if f.User == nil || f.User.LeaveQuota <= 0 {
			return 0, false
		}
		return f.User.LeaveQuota, true
	}))
	r.Register(numField("user.experienceYears", func(f *Facts) (float64, bool) {
		if f.User == nil {
			return 0, false
		}
		return f.User.ExperienceYears, true
	}))
	r.Register(boolField("user.available", func(f *Facts) (bool, bool) {
		if f.User == nil {
			return false, false
		}
		return f.User.Available, true
	}))
	r.Register(boolField("user.onLeave", func(f *Facts) (bool, bool) {
		day, ok := f.referenceDay()
		if f.User == nil || !ok {
			return false, false
		}
		return f.User.OnLeave(model.DayKey(day)), true
	}))
}

func registerDateFields(r *Registry) {
	day := func(get func(time.Time) float64) func(*Facts) (float64, bool) {
		return func(f *Facts) (float64, bool) {
			if !f.HasDay {
				return 0, false
			}
			return get(f.Day), true
		}
	}
	r.Register(timeField("date.value", func(f *Facts) (time.Time, bool) {
		return f.Day, f.HasDay
	}))
	r.Register(numField("date.dayOfWeek", day(func(t time.Time) float64 { return float64(t.Weekday()) })))
	r.Register(numField("date.dayOfMonth", day(func(t time.Time) float64 { return float64(t.Day()) })))
	r.Register(numField("date.month", day(func(t time.Time) float64 { return float64(t.Month()) })))
	r.Register(boolField("date.isWeekend", func(f *Facts) (bool, bool) {
		return f.HasDay && model.IsWeekend(f.Day), f.HasDay
	}))
	r.Register(boolField("date.isHoliday", func(f *Facts) (bool, bool) {
		return f.Holiday, f.HasDay
	}))
}

func registerPlanningFields(r *Registry) {
	p := func(get func(*PlanningStats) int) func(*Facts) (float64, bool) {
		return func(f *Facts) (float64, bool) {
			if f.Planning == nil {
				return 0, false
			}
			return float64(get(f.Planning)), true
		}
	}
	r.Register(numField("planning.staffCount", p(func(s *PlanningStats) int { return s.StaffCount })))
	r.Register(numField("planning.seniorCount", p(func(s *PlanningStats) int { return s.SeniorCount })))
	r.Register(numField("planning.juniorCount", p(func(s *PlanningStats) int { return s.JuniorCount })))
	r.Register(numField("planning.assignmentCount", p(func(s *PlanningStats) int { return s.AssignmentCount })))
	r.Register(numField("planning.guardCount", p(func(s *PlanningStats) int { return s.GuardCount })))
	r.Register(ptrField("planning.coveragePercentage", func(f *Facts) *float64 {
		if f.Planning == nil {
			return nil
		}
		return f.Planning.Coverage
	}))
}

func registerMetricFields(r *Registry) {
	r.Register(ptrField("metrics.fatigueScore", func(f *Facts) *float64 { return f.Fatigue }))
	r.Register(ptrField("metrics.projectedFatigueScore", func(f *Facts) *float64 { return f.ProjectedFatigue }))
	r.Register(ptrField("metrics.equityScore", func(f *Facts) *float64 { return f.Equity }))
	r.Register(ptrField("metrics.equityDeviation", func(f *Facts) *float64 { return f.EquityDeviation }))
}

func registerFiringFields(r *Registry) {
	r.Register(stringsField("firing.assignees", func(f *Facts) ([]string, bool) {
		return f.firing.assignees, f.firing.set
	}))
	r.Register(stringsField("firing.assigneeNames", func(f *Facts) ([]string, bool) {
		return f.firing.names, f.firing.set
	}))
}
