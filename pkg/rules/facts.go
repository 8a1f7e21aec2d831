package rules

import (
	"time"

	"github.com/paiban/planrules/pkg/model"
)

// UserStats 由规划上下文推导出的人员统计
type UserStats struct {
	LastGuardDate       *time.Time
	GuardsThisMonth     int
	AstreintesThisMonth int
	ConsecutiveGuards   int
	RestHours           *float64
	OverlapsExisting    bool
}

// PlanningStats 某一天的规划统计
type PlanningStats struct {
	StaffCount      int
	SeniorCount     int
	JuniorCount     int
	AssignmentCount int
	GuardCount      int
	Coverage        *float64
}

// Facts 单次求值的事实上下文
//
// 每个排班（验证）或每个日期（生成）构造一次，只在一次运行内使用。
type Facts struct {
	Now        time.Time
	Assignment *model.Assignment
	User       *model.Staff

	Day     time.Time
	HasDay  bool
	Holiday bool

	UserStats *UserStats
	Planning  *PlanningStats

	Fatigue          *float64
	ProjectedFatigue *float64
	Equity           *float64
	EquityDeviation  *float64

	calc   map[string]Value
	firing firingState
}

type firingState struct {
	set       bool
	assignees []string
	names     []string
}

// SetCalc 写入计算结果 calc.<name>
func (f *Facts) SetCalc(name string, v Value) {
	if f.calc == nil {
		f.calc = make(map[string]Value)
	}
	f.calc[name] = v
}

// Calc 读取计算结果
func (f *Facts) Calc(name string) (Value, bool) {
	v, ok := f.calc[name]
	return v, ok
}

// setAssignees 记录本次触发中 assign 动作选出的人员
func (f *Facts) setAssignees(ids, names []string) {
	f.firing = firingState{set: true, assignees: ids, names: names}
}

func (f *Facts) resetFiring() {
	f.firing = firingState{}
}

// userID 返回当前人员ID，人员资料缺失时使用排班上的 userId
func (f *Facts) userID() string {
	if f.User != nil {
		return f.User.ID
	}
	if f.Assignment != nil {
		return f.Assignment.UserID
	}
	return ""
}

func (f *Facts) assignmentID() string {
	if f.Assignment != nil {
		return f.Assignment.ID
	}
	return ""
}

// referenceDay 返回判断请假等按天属性时使用的日期
func (f *Facts) referenceDay() (time.Time, bool) {
	if f.HasDay {
		return f.Day, true
	}
	if f.Assignment != nil {
		return model.DayOf(f.Assignment.StartDate), true
	}
	return time.Time{}, false
}

func floatPtr(v float64) *float64 { return &v }
