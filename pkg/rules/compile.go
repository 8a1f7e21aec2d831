package rules

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/model"
)

// Rejection 加载失败的规则定义
type Rejection struct {
	RuleID string `json:"ruleId"`
	Err    error  `json:"-"`
}

// Error 实现 error
func (r Rejection) Error() string {
	return fmt.Sprintf("规则 %s 被拒绝: %v", r.RuleID, r.Err)
}

// Compiler 将 Definition 校验并编译为 Rule
type Compiler struct {
	registry *Registry
	env      *cel.Env
}

// NewCompiler 创建编译器，reg 为空时使用内置注册表
func NewCompiler(reg *Registry) (*Compiler, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	env, err := newExprEnv()
	if err != nil {
		return nil, fmt.Errorf("创建表达式环境失败: %w", err)
	}
	return &Compiler{registry: reg, env: env}, nil
}

// MustCompiler 创建编译器，失败时 panic（用于初始化）
func MustCompiler(reg *Registry) *Compiler {
	c, err := NewCompiler(reg)
	if err != nil {
		panic(err)
	}
	return c
}

// Registry 返回字段注册表
func (c *Compiler) Registry() *Registry {
	return c.registry
}

// Compile 编译单条规则定义
func (c *Compiler) Compile(def Definition) (*Rule, error) {
	var ve errors.ValidationErrors
	unknown := ""

	if strings.TrimSpace(def.ID) == "" {
		ve.Add("id", "不能为空")
	}
	ruleType := RuleType(strings.ToLower(def.Type))
	if ruleType != RuleValidation && ruleType != RuleGeneration {
		ve.Addf("type", "未知的规则类型 %q", def.Type)
	}
	status, ok := parseStatus(def)
	if !ok {
		ve.Addf("status", "未知的规则状态 %q", def.Status)
	}

	rule := &Rule{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		Type:        ruleType,
		Priority:    def.Priority,
		Status:      status,
		Metadata:    def.Metadata,
		CreatedAt:   def.CreatedAt,
		fields:      make(map[string]bool),
	}
	if rule.Name == "" {
		rule.Name = def.ID
	}

	cond, err := c.compileCondition(def.Conditions, "conditions", rule.fields, &ve, &unknown)
	if err == nil {
		rule.Conditions = cond
	}

	if len(def.Actions) == 0 {
		ve.Add("actions", "至少需要一个动作")
	}
	for i, spec := range def.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		action, err := c.compileAction(spec, ruleType, path, &unknown)
		if err != nil {
			ve.Add(path, err.Error())
			continue
		}
		rule.Actions = append(rule.Actions, action)
	}

	if ve.HasErrors() {
		code := errors.CodeInvalidRule
		msg := fmt.Sprintf("规则 %s 定义无效", def.ID)
		if unknown != "" {
			code = errors.CodeUnknownField
			msg = fmt.Sprintf("规则 %s 引用了未知字段 %s", def.ID, unknown)
		}
		return nil, ve.ToAppError(code, msg)
	}
	return rule, nil
}

// CompileAll 编译一批定义；无效或重复ID的定义被拒绝，其余照常加载
func (c *Compiler) CompileAll(defs []Definition) ([]*Rule, []Rejection) {
	rules := make([]*Rule, 0, len(defs))
	var rejected []Rejection
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		if seen[def.ID] {
			rejected = append(rejected, Rejection{
				RuleID: def.ID,
				Err:    errors.New(errors.CodeInvalidRule, fmt.Sprintf("规则ID重复: %s", def.ID)),
			})
			continue
		}
		rule, err := c.Compile(def)
		if err != nil {
			rejected = append(rejected, Rejection{RuleID: def.ID, Err: err})
			continue
		}
		seen[def.ID] = true
		rule.order = i
		rules = append(rules, rule)
	}
	return rules, rejected
}

// LoadDefinitions 使用内置注册表编译一批定义
func LoadDefinitions(defs []Definition) ([]*Rule, []Rejection) {
	return defaultCompiler().CompileAll(defs)
}

// Compile 使用内置注册表编译单条定义
func Compile(def Definition) (*Rule, error) {
	return defaultCompiler().Compile(def)
}

var defaultCompiler = sync.OnceValue(func() *Compiler {
	return MustCompiler(nil)
})

// SortRules 按优先级降序排列，同优先级保持加载顺序
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].order < rules[j].order
	})
}

// EffectiveStatus 合并 status 与 enabled 后的状态，无法识别时原样返回
func (d Definition) EffectiveStatus() string {
	if s, ok := parseStatus(d); ok {
		return string(s)
	}
	return d.Status
}

func parseStatus(def Definition) (Status, bool) {
	switch strings.ToLower(def.Status) {
	case "":
		if def.Enabled != nil && !*def.Enabled {
			return StatusInactive, true
		}
		return StatusActive, true
	case string(StatusActive):
		return StatusActive, true
	case string(StatusInactive):
		return StatusInactive, true
	}
	return "", false
}

func (c *Compiler) compileCondition(spec ConditionSpec, path string, refs map[string]bool, ve *errors.ValidationErrors, unknown *string) (Condition, error) {
	if spec.IsZero() {
		// 无条件的规则总是匹配
		return &Group{Operator: LogicAnd}, nil
	}

	if spec.IsGroup() {
		logic := Logic(strings.ToUpper(spec.Operator))
		if spec.Operator == "" {
			logic = LogicAnd
		}
		if logic != LogicAnd && logic != LogicOr {
			ve.Addf(path+".operator", "未知的组合运算符 %q", spec.Operator)
			return nil, fmt.Errorf("invalid group")
		}
		g := &Group{Operator: logic, Conditions: make([]Condition, 0, len(spec.Conditions))}
		var failed bool
		for i, child := range spec.Conditions {
			cc, err := c.compileCondition(child, fmt.Sprintf("%s.conditions[%d]", path, i), refs, ve, unknown)
			if err != nil {
				failed = true
				continue
			}
			g.Conditions = append(g.Conditions, cc)
		}
		if failed {
			return nil, fmt.Errorf("invalid group")
		}
		return g, nil
	}

	field, ok := c.registry.Lookup(spec.Field)
	if !ok {
		if spec.Field == "" {
			ve.Add(path+".field", "不能为空")
		} else {
			ve.Addf(path+".field", "未知字段 %q", spec.Field)
			if *unknown == "" {
				*unknown = spec.Field
			}
		}
		return nil, fmt.Errorf("invalid field")
	}

	op := Operator(strings.ToLower(spec.Operator))
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpGreater, OpLess, OpIn, OpBetween:
	default:
		ve.Addf(path+".operator", "未知的运算符 %q", spec.Operator)
		return nil, fmt.Errorf("invalid operator")
	}
	if !operatorAllowed(field.Kind, op) {
		ve.Addf(path+".operator", "运算符 %s 不适用于 %s 类型字段 %s", op, field.Kind, spec.Field)
		return nil, fmt.Errorf("invalid operator")
	}

	operand, err := coerceOperand(field, op, spec.Value)
	if err != nil {
		ve.Add(path+".value", err.Error())
		return nil, err
	}

	refs[spec.Field] = true
	return &Leaf{
		Field:    spec.Field,
		Operator: op,
		Negated:  spec.Negated,
		operand:  operand,
		field:    field,
	}, nil
}

func (c *Compiler) compileAction(spec ActionSpec, ruleType RuleType, path string, unknown *string) (Action, error) {
	params := spec.Parameters
	switch ActionType(strings.ToLower(spec.Type)) {
	case ActionValidate:
		if ruleType == RuleGeneration {
			return nil, fmt.Errorf("生成规则不能使用 validate 动作")
		}
		severity := Severity(strings.ToLower(paramString(params, "severity")))
		if severity != SeverityError && severity != SeverityWarning {
			return nil, fmt.Errorf("severity 必须为 error 或 warning，实际为 %q", paramString(params, "severity"))
		}
		msgText := paramString(params, "message")
		if strings.TrimSpace(msgText) == "" {
			return nil, fmt.Errorf("message 不能为空")
		}
		msg, err := c.message(msgText, unknown)
		if err != nil {
			return nil, err
		}
		return &ValidateAction{
			Severity:      severity,
			Message:       msg,
			ViolationType: paramString(params, "violationType"),
		}, nil

	case ActionAssign:
		if ruleType == RuleValidation {
			return nil, fmt.Errorf("验证规则不能使用 assign 动作")
		}
		at := paramString(params, "assignmentType")
		if at == "" {
			return nil, fmt.Errorf("assignmentType 不能为空")
		}
		count := 1
		if _, ok := params["count"]; ok {
			n, err := paramInt(params, "count")
			if err != nil {
				return nil, err
			}
			count = n
		}
		if count < 1 {
			return nil, fmt.Errorf("count 必须大于等于 1，实际为 %d", count)
		}
		criteria, err := parseCriteria(params["userCriteria"])
		if err != nil {
			return nil, err
		}
		return &AssignAction{
			AssignmentType: model.AssignmentType(at),
			ShiftType:      paramString(params, "shiftType"),
			Criteria:       criteria,
			Count:          count,
		}, nil

	case ActionNotify:
		text := paramString(params, "suggestion")
		if text == "" {
			text = paramString(params, "message")
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("suggestion 不能为空")
		}
		msg, err := c.message(text, unknown)
		if err != nil {
			return nil, err
		}
		return &NotifyAction{Suggestion: msg}, nil

	case ActionCalculate:
		target := paramString(params, "target")
		if !validIdent(target) {
			return nil, fmt.Errorf("target %q 不是有效的标识符", target)
		}
		expr := paramString(params, "expression")
		if strings.TrimSpace(expr) == "" {
			return nil, fmt.Errorf("expression 不能为空")
		}
		prg, err := compileExpression(c.env, expr)
		if err != nil {
			return nil, err
		}
		return &CalculateAction{Target: target, Expression: expr, program: prg}, nil
	}
	return nil, fmt.Errorf("未知的动作类型 %q", spec.Type)
}

func (c *Compiler) message(text string, unknown *string) (Message, error) {
	msg, err := compileMessage(c.registry, text)
	var ufe *unknownFieldError
	if stderrors.As(err, &ufe) && *unknown == "" {
		*unknown = ufe.path
	}
	return msg, err
}

func parseCriteria(raw any) (UserCriteria, error) {
	var uc UserCriteria
	if raw == nil {
		return uc, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return uc, fmt.Errorf("userCriteria 必须为对象，实际为 %T", raw)
	}
	uc.Experience = strings.ToLower(paramString(m, "experience"))
	if uc.Experience != "" && !model.IsValidExperience(uc.Experience) {
		return uc, fmt.Errorf("未知的资历 %q", uc.Experience)
	}
	if v, ok := m["available"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return uc, fmt.Errorf("available 必须为布尔值")
		}
		uc.Available = &b
	}
	uc.SortBy = paramString(m, "sortBy")
	switch uc.SortBy {
	case "", SortByFatigue, SortByGuardCount, SortByExperienceYears, SortByName:
	default:
		return uc, fmt.Errorf("未知的排序字段 %q", uc.SortBy)
	}
	uc.Order = strings.ToLower(paramString(m, "order"))
	if uc.Order != "" && uc.Order != "asc" && uc.Order != "desc" {
		return uc, fmt.Errorf("order 必须为 asc 或 desc，实际为 %q", uc.Order)
	}
	return uc, nil
}

func paramString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func paramInt(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s 必须为整数，实际为 %v", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s 必须为整数，实际为 %q", key, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s 必须为整数，实际为 %T", key, m[key])
}
