// Package rules 实现排班规划的规则引擎：条件求值、规则匹配、动作执行与运行编排
package rules

import (
	"time"

	"github.com/google/cel-go/cel"

	"github.com/paiban/planrules/pkg/model"
)

// RuleType 规则类型
type RuleType string

const (
	RuleValidation RuleType = "validation"
	RuleGeneration RuleType = "generation"
)

// Status 规则状态
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Operator 叶子条件运算符
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpGreater   Operator = "greater"
	OpLess      Operator = "less"
	OpIn        Operator = "in"
	OpBetween   Operator = "between"
)

// Logic 组合条件运算符
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Severity 违规级别
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ActionType 动作类型
type ActionType string

const (
	ActionValidate  ActionType = "validate"
	ActionAssign    ActionType = "assign"
	ActionNotify    ActionType = "notify"
	ActionCalculate ActionType = "calculate"
)

// Rule 已编译的规则，只能通过 Compiler 构造
type Rule struct {
	ID          string
	Name        string
	Description string
	Type        RuleType
	Priority    int
	Status      Status
	Conditions  Condition
	Actions     []Action
	Metadata    map[string]any
	CreatedAt   time.Time

	fields map[string]bool
	order  int
}

// IsActive 是否启用
func (r *Rule) IsActive() bool {
	return r.Status == StatusActive
}

// References 规则条件是否引用了某字段
func (r *Rule) References(path string) bool {
	return r.fields[path]
}

// Condition 条件：*Leaf 或 *Group
type Condition interface {
	condition()
}

// Leaf 叶子条件
type Leaf struct {
	Field    string
	Operator Operator
	Negated  bool

	operand Operand
	field   Field
}

// Operand 返回比较值
func (l *Leaf) Operand() Operand { return l.operand }

// Group 组合条件
type Group struct {
	Operator   Logic
	Conditions []Condition
}

func (*Leaf) condition()  {}
func (*Group) condition() {}

// Action 动作：ValidateAction、AssignAction、NotifyAction 或 CalculateAction
type Action interface {
	Type() ActionType
}

// ValidateAction 生成一条违规
type ValidateAction struct {
	Severity      Severity
	Message       Message
	ViolationType string
}

// UserCriteria 候选人筛选条件
type UserCriteria struct {
	Experience string `json:"experience,omitempty" yaml:"experience,omitempty"`
	Available  *bool  `json:"available,omitempty" yaml:"available,omitempty"`
	SortBy     string `json:"sortBy,omitempty" yaml:"sort_by,omitempty"`
	Order      string `json:"order,omitempty" yaml:"order,omitempty"`
}

// 候选人排序字段
const (
	SortByFatigue         = "fatigueScore"
	SortByGuardCount      = "guardCount"
	SortByExperienceYears = "experienceYears"
	SortByName            = "name"
)

// AssignAction 生成一条排班建议
type AssignAction struct {
	AssignmentType model.AssignmentType
	ShiftType      string
	Criteria       UserCriteria
	Count          int
}

// NotifyAction 生成一条建议
type NotifyAction struct {
	Suggestion Message
}

// CalculateAction 计算表达式并写入 calc.<Target>
type CalculateAction struct {
	Target     string
	Expression string

	program cel.Program
}

func (*ValidateAction) Type() ActionType  { return ActionValidate }
func (*AssignAction) Type() ActionType    { return ActionAssign }
func (*NotifyAction) Type() ActionType    { return ActionNotify }
func (*CalculateAction) Type() ActionType { return ActionCalculate }

// Violation 违规
type Violation struct {
	ID            string   `json:"id"`
	RuleID        string   `json:"ruleId"`
	RuleName      string   `json:"ruleName"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	ViolationType string   `json:"violationType,omitempty"`
	AssignmentID  string   `json:"assignmentId,omitempty"`
	UserID        string   `json:"userId,omitempty"`
}

// Suggestion 建议
type Suggestion struct {
	RuleID       string `json:"ruleId"`
	Message      string `json:"message"`
	AssignmentID string `json:"assignmentId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Date         string `json:"date,omitempty"`
}

// AssignmentProposal 排班建议
type AssignmentProposal struct {
	ID             string               `json:"id"`
	RuleID         string               `json:"ruleId"`
	Date           string               `json:"date"`
	AssignmentType model.AssignmentType `json:"assignmentType"`
	ShiftType      string               `json:"shiftType,omitempty"`
	UserCriteria   UserCriteria         `json:"userCriteria"`
	Count          int                  `json:"count"`
	UserIDs        []string             `json:"userIds"`
	Shortfall      int                  `json:"shortfall"`
}

// Outcome 一次规则触发的产出
type Outcome struct {
	Violations  []Violation
	Suggestions []Suggestion
	Proposals   []AssignmentProposal
}
