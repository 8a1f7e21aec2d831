package handler

import (
	"net/http"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/stats"
)

// EquityRequest 公平性分析请求
type EquityRequest struct {
	Assignments  []*model.Assignment    `json:"assignments"`
	Staff        []*model.Staff         `json:"staff,omitempty"`
	Requirements []model.Requirement    `json:"requirements,omitempty"`
	Class        []model.AssignmentType `json:"assignmentClass,omitempty"`
}

// EquityResponse 公平性分析结果
type EquityResponse struct {
	Fairness *stats.FairnessMetrics `json:"fairness"`
	Coverage *stats.CoverageMetrics `json:"coverage,omitempty"`
}

// Equity 分析一批排班的公平性与覆盖率
func (h *Handler) Equity(w http.ResponseWriter, r *http.Request) {
	var req EquityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	for i, a := range req.Assignments {
		if a == nil || a.UserID == "" {
			respondError(w, r, errors.InvalidInput("assignments", "缺少 userId").WithField("index", i))
			return
		}
	}

	class := req.Class
	if len(class) == 0 {
		class = h.GuardTypes
	}
	resp := EquityResponse{
		Fairness: stats.NewFairnessAnalyzer(class...).Analyze(req.Assignments, req.Staff),
	}
	if len(req.Requirements) > 0 {
		resp.Coverage = stats.NewCoverageAnalyzer().Analyze(req.Requirements, req.Assignments)
	}
	respondJSON(w, http.StatusOK, resp)
}
