package handler

import (
	"net/http"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/rules"
)

// RuleSummary 规则摘要
type RuleSummary struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        rules.RuleType `json:"type"`
	Priority    int            `json:"priority"`
	Status      rules.Status   `json:"status"`
	Actions     []string       `json:"actions"`
}

func summarize(rs []*rules.Rule) []RuleSummary {
	out := make([]RuleSummary, 0, len(rs))
	for _, r := range rs {
		actions := make([]string, len(r.Actions))
		for i, a := range r.Actions {
			actions[i] = string(a.Type())
		}
		out = append(out, RuleSummary{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Type:        r.Type,
			Priority:    r.Priority,
			Status:      r.Status,
			Actions:     actions,
		})
	}
	return out
}

// ListRules 列出启用的规则
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	active, err := h.Engine.Source().ActiveRules(r.Context())
	if err != nil {
		respondError(w, r, errors.RuleSourceUnavailable(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rules": summarize(active),
		"total": len(active),
	})
}

// Conflicts 检测启用规则之间的冲突
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	active, err := h.Engine.Source().ActiveRules(r.Context())
	if err != nil {
		respondError(w, r, errors.RuleSourceUnavailable(err))
		return
	}
	conflicts := rules.DetectConflicts(active)
	if conflicts == nil {
		conflicts = []rules.Conflict{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"total":     len(conflicts),
	})
}

// rejectionReporter 能报告加载时被拒绝规则的规则源
type rejectionReporter interface {
	Rejections() []rules.Rejection
}

// RejectedRule 加载时被拒绝的规则
type RejectedRule struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

// ReloadResponse 重新加载结果
type ReloadResponse struct {
	Reloaded bool           `json:"reloaded"`
	Active   int            `json:"active"`
	Rejected []RejectedRule `json:"rejected"`
}

// Reload 使规则缓存失效并立即重新加载
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	source := h.Engine.Source()
	reloader, ok := source.(Reloader)
	if ok {
		reloader.Invalidate()
	}

	active, err := source.ActiveRules(r.Context())
	if err != nil {
		respondError(w, r, errors.RuleSourceUnavailable(err))
		return
	}

	resp := ReloadResponse{Reloaded: ok, Active: len(active), Rejected: []RejectedRule{}}
	if rr, ok := source.(rejectionReporter); ok {
		for _, rej := range rr.Rejections() {
			resp.Rejected = append(resp.Rejected, RejectedRule{RuleID: rej.RuleID, Reason: rej.Err.Error()})
		}
	}
	h.Registry.SetRuleRejections(len(resp.Rejected))
	respondJSON(w, http.StatusOK, resp)
}

// RuleMetrics 规则执行统计
func (h *Handler) RuleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.MetricsStore == nil {
		respondJSON(w, http.StatusOK, map[string]any{"metrics": []rules.RuleMetrics{}})
		return
	}
	list, err := h.MetricsStore.List(r.Context())
	if err != nil {
		respondError(w, r, errors.Wrap(err, errors.CodeStoreUnavailable, "读取规则统计失败"))
		return
	}
	if list == nil {
		list = []rules.RuleMetrics{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"metrics": list})
}
