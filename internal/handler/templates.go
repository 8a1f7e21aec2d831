package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/rules"
	"github.com/paiban/planrules/pkg/templates"
)

// TemplateSource 模板查询
type TemplateSource interface {
	Get(ctx context.Context, category string) (templates.Template, error)
}

// BuiltinTemplates 内置模板
type BuiltinTemplates struct{}

// Get 按类别查找内置模板
func (BuiltinTemplates) Get(_ context.Context, category string) (templates.Template, error) {
	tpl, ok := templates.Get(category)
	if !ok {
		return tpl, errors.NotFound("template", category)
	}
	return tpl, nil
}

// TemplateChain 依次查找，前一个返回 NOT_FOUND 时继续
type TemplateChain []TemplateSource

// Get 实现 TemplateSource
func (c TemplateChain) Get(ctx context.Context, category string) (templates.Template, error) {
	var lastErr error = errors.NotFound("template", category)
	for _, src := range c {
		tpl, err := src.Get(ctx, category)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, errors.CodeNotFound) {
			return tpl, err
		}
		lastErr = err
	}
	return templates.Template{}, lastErr
}

// TemplateSummary 模板摘要
type TemplateSummary struct {
	Name        string             `json:"name"`
	Category    templates.Category `json:"category"`
	Description string             `json:"description"`
	IsDefault   bool               `json:"isDefault"`
}

// TemplateDetail 模板及其派生规则
type TemplateDetail struct {
	Template templates.Template `json:"template"`
	Rules    []rules.Definition `json:"rules"`
}

// ListTemplates 列出内置模板
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	all := templates.Defaults()
	out := make([]TemplateSummary, 0, len(all))
	for _, t := range all {
		out = append(out, TemplateSummary{
			Name:        t.Name,
			Category:    t.Category,
			Description: t.Description,
			IsDefault:   t.IsDefault,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": out})
}

// GetTemplate 获取模板详情
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Templates.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, TemplateDetail{Template: tpl, Rules: tpl.Rules()})
}
