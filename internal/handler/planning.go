package handler

import (
	"net/http"
	"time"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
)

// Validate 校验一批排班
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var in rules.ValidationInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	if len(in.Assignments) == 0 {
		respondError(w, r, errors.InvalidInput("assignments", "排班列表不能为空"))
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	start := time.Now()
	report, err := h.Engine.RunValidation(ctx, in)
	if err != nil {
		h.Registry.RecordValidationError(time.Since(start))
		respondError(w, r, err)
		return
	}
	h.Registry.RecordValidation(report, time.Since(start))

	respondJSON(w, http.StatusOK, report)
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	rules.GenerationCriteria
	Staff []*model.Staff `json:"staff"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Proposals []rules.AssignmentProposal `json:"proposals"`
}

// Generate 按日期范围生成排班建议
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := h.runContext(r)
	defer cancel()

	proposals, err := h.Engine.RunGeneration(ctx, req.GenerationCriteria, req.Staff)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.Registry.RecordProposals(len(proposals))

	respondJSON(w, http.StatusOK, GenerateResponse{Proposals: proposals})
}
