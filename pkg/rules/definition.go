package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition 规则的存储/传输形式，经 Compiler 校验后才能参与求值
type Definition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string         `json:"type" yaml:"type"`
	Priority    int            `json:"priority" yaml:"priority"`
	Status      string         `json:"status,omitempty" yaml:"status,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Conditions  ConditionSpec  `json:"conditions" yaml:"conditions"`
	Actions     []ActionSpec   `json:"actions" yaml:"actions"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt,omitempty" yaml:"created_at,omitempty"`
}

// ConditionSpec 条件的传输形式
//
// 有 conditions 或 operator 为 AND/OR 时为组合条件，否则为叶子条件。
// 数组形式等价于 AND 组合。
type ConditionSpec struct {
	Field      string          `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   string          `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any             `json:"value,omitempty" yaml:"value,omitempty"`
	Negated    bool            `json:"negated,omitempty" yaml:"negated,omitempty"`
	Conditions []ConditionSpec `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

type conditionSpecAlias ConditionSpec

// UnmarshalJSON 支持数组形式
func (c *ConditionSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []ConditionSpec
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*c = ConditionSpec{Operator: string(LogicAnd), Conditions: list}
		return nil
	}
	var alias conditionSpecAlias
	if err := json.Unmarshal(trimmed, &alias); err != nil {
		return err
	}
	*c = ConditionSpec(alias)
	return nil
}

// UnmarshalYAML 支持数组形式
func (c *ConditionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []ConditionSpec
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = ConditionSpec{Operator: string(LogicAnd), Conditions: list}
		return nil
	}
	var alias conditionSpecAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*c = ConditionSpec(alias)
	return nil
}

// IsGroup 是否为组合条件
func (c ConditionSpec) IsGroup() bool {
	op := strings.ToUpper(c.Operator)
	return len(c.Conditions) > 0 || op == string(LogicAnd) || op == string(LogicOr)
}

// IsZero 是否未设置任何条件
func (c ConditionSpec) IsZero() bool {
	return c.Field == "" && c.Operator == "" && c.Value == nil && len(c.Conditions) == 0
}

// ActionSpec 动作的传输形式
type ActionSpec struct {
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// LeafSpec 构造叶子条件定义
func LeafSpec(field string, op Operator, value any) ConditionSpec {
	return ConditionSpec{Field: field, Operator: string(op), Value: value}
}

// All 构造 AND 组合定义
func All(conds ...ConditionSpec) ConditionSpec {
	return ConditionSpec{Operator: string(LogicAnd), Conditions: conds}
}

// Any 构造 OR 组合定义
func Any(conds ...ConditionSpec) ConditionSpec {
	return ConditionSpec{Operator: string(LogicOr), Conditions: conds}
}

// ruleFile 规则文件可以是数组，也可以是 {rules: [...]}
type ruleFile struct {
	Rules []Definition `json:"rules" yaml:"rules"`
}

// DecodeDefinitions 解析规则文件，format 为 json 或 yaml
func DecodeDefinitions(data []byte, format string) ([]Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch strings.ToLower(format) {
	case "json":
		if trimmed[0] == '[' {
			var defs []Definition
			if err := json.Unmarshal(trimmed, &defs); err != nil {
				return nil, fmt.Errorf("解析规则JSON失败: %w", err)
			}
			return defs, nil
		}
		var f ruleFile
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("解析规则JSON失败: %w", err)
		}
		return f.Rules, nil
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("解析规则YAML失败: %w", err)
		}
		doc := &node
		if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
			doc = doc.Content[0]
		}
		if doc.Kind == yaml.SequenceNode {
			var defs []Definition
			if err := doc.Decode(&defs); err != nil {
				return nil, fmt.Errorf("解析规则YAML失败: %w", err)
			}
			return defs, nil
		}
		var f ruleFile
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("解析规则YAML失败: %w", err)
		}
		return f.Rules, nil
	}
	return nil, fmt.Errorf("不支持的规则文件格式 %q", format)
}

// FormatFromPath 按扩展名判断格式
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// EncodeDefinitionsYAML 导出为 YAML
func EncodeDefinitionsYAML(defs []Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(ruleFile{Rules: defs}); err != nil {
		return nil, fmt.Errorf("导出规则YAML失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
