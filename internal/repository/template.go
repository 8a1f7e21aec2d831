package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/templates"
)

// TemplateStore 规则模板仓储
type TemplateStore struct {
	db TxDB
}

// NewTemplateStore 创建模板仓储
func NewTemplateStore(db TxDB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Save 保存模板；设为默认时其余模板取消默认
func (s *TemplateStore) Save(ctx context.Context, tpl templates.Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	config, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("序列化模板失败: %w", err)
	}
	category := strings.ToUpper(string(tpl.Category))

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if tpl.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE planning_rule_templates SET is_default = FALSE WHERE is_default AND category <> $1`,
				category); err != nil {
				return fmt.Errorf("重置默认模板失败: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO planning_rule_templates (category, name, is_default, config, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (category) DO UPDATE SET
				name = EXCLUDED.name,
				is_default = EXCLUDED.is_default,
				config = EXCLUDED.config,
				updated_at = NOW()
		`, category, tpl.Name, tpl.IsDefault, config)
		if err != nil {
			return fmt.Errorf("保存模板失败: %w", err)
		}
		return nil
	})
}

// Get 按类别获取模板
func (s *TemplateStore) Get(ctx context.Context, category string) (templates.Template, error) {
	var (
		tpl    templates.Template
		config []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM planning_rule_templates WHERE category = $1`,
		strings.ToUpper(category)).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return tpl, apperrors.NotFound("template", category)
	}
	if err != nil {
		return tpl, fmt.Errorf("查询模板失败: %w", err)
	}
	if err := json.Unmarshal(config, &tpl); err != nil {
		return tpl, fmt.Errorf("解析模板 %s 失败: %w", category, err)
	}
	return tpl, nil
}

// Default 获取默认模板
func (s *TemplateStore) Default(ctx context.Context) (templates.Template, error) {
	var category string
	err := s.db.QueryRowContext(ctx,
		`SELECT category FROM planning_rule_templates WHERE is_default`).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return templates.Template{}, apperrors.NotFound("template", "default")
	}
	if err != nil {
		return templates.Template{}, fmt.Errorf("查询默认模板失败: %w", err)
	}
	return s.Get(ctx, category)
}
