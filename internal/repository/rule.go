package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/rules"
)

// RuleStore 规则仓储，同时作为 rules.DefinitionLoader 供缓存规则源使用
type RuleStore struct {
	db DB
}

// NewRuleStore 创建规则仓储
func NewRuleStore(db DB) *RuleStore {
	return &RuleStore{db: db}
}

const ruleColumns = `id, name, description, rule_type, priority, status, conditions, actions, metadata, created_at`

// ListActive 列出启用的规则，按优先级降序、创建时间升序
func (s *RuleStore) ListActive(ctx context.Context) ([]rules.Definition, error) {
	query := `SELECT ` + ruleColumns + `
		FROM planning_rules
		WHERE status = 'active'
		ORDER BY priority DESC, created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询规则失败: %w", err)
	}
	defer rows.Close()

	var defs []rules.Definition
	for rows.Next() {
		def, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历规则失败: %w", err)
	}
	return defs, nil
}

// LoadDefinitions 实现 rules.DefinitionLoader
func (s *RuleStore) LoadDefinitions(ctx context.Context) ([]rules.Definition, error) {
	return s.ListActive(ctx)
}

// Get 根据ID获取规则
func (s *RuleStore) Get(ctx context.Context, id string) (rules.Definition, error) {
	query := `SELECT ` + ruleColumns + ` FROM planning_rules WHERE id = $1`

	def, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Definition{}, apperrors.NotFound("rule", id)
	}
	return def, err
}

// Upsert 写入规则，已存在时覆盖内容但保留创建时间
func (s *RuleStore) Upsert(ctx context.Context, def rules.Definition) error {
	if def.ID == "" {
		return apperrors.InvalidInput("id", "规则ID不能为空")
	}
	conditions, err := jsonColumn(def.Conditions, `{}`)
	if err != nil {
		return err
	}
	actions, err := jsonColumn(def.Actions, `[]`)
	if err != nil {
		return err
	}
	metadata, err := jsonColumn(def.Metadata, `{}`)
	if err != nil {
		return err
	}
	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO planning_rules (
			id, name, description, rule_type, priority, status,
			conditions, actions, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			rule_type = EXCLUDED.rule_type,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`
	_, err = s.db.ExecContext(ctx, query,
		def.ID, def.Name, def.Description, def.Type, def.Priority, def.EffectiveStatus(),
		conditions, actions, metadata, createdAt,
	)
	if err != nil {
		return fmt.Errorf("保存规则失败: %w", err)
	}
	return nil
}

// SetStatus 启用或停用规则
func (s *RuleStore) SetStatus(ctx context.Context, id string, status rules.Status) error {
	if status != rules.StatusActive && status != rules.StatusInactive {
		return apperrors.InvalidInput("status", fmt.Sprintf("未知状态 %q", status))
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE planning_rules SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("更新规则状态失败: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("rule", id)
	}
	return nil
}

func scanRule(row Scanner) (rules.Definition, error) {
	var (
		def                            rules.Definition
		conditions, actions, metadata []byte
	)
	err := row.Scan(
		&def.ID, &def.Name, &def.Description, &def.Type, &def.Priority, &def.Status,
		&conditions, &actions, &metadata, &def.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("读取规则失败: %w", err)
	}

	if err := json.Unmarshal(conditions, &def.Conditions); err != nil {
		return def, fmt.Errorf("解析规则 %s 条件失败: %w", def.ID, err)
	}
	if err := json.Unmarshal(actions, &def.Actions); err != nil {
		return def, fmt.Errorf("解析规则 %s 动作失败: %w", def.ID, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &def.Metadata); err != nil {
			return def, fmt.Errorf("解析规则 %s 元数据失败: %w", def.ID, err)
		}
	}
	return def, nil
}
