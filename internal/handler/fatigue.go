package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
)

// FatigueEventRequest 疲劳事件
type FatigueEventRequest struct {
	UserID     string `json:"userId"`
	EventType  string `json:"eventType"`
	IsRecovery bool   `json:"isRecovery"`
}

// FatigueResponse 疲劳分
type FatigueResponse struct {
	UserID      string        `json:"userId"`
	Score       float64       `json:"score"`
	Level       fatigue.Level `json:"level"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
}

func (h *Handler) scorer() (*fatigue.Scorer, error) {
	s := h.Engine.Scorer()
	if s == nil {
		return nil, errors.New(errors.CodeStoreUnavailable, "未配置疲劳度计分")
	}
	return s, nil
}

// FatigueEvent 记录疲劳或恢复事件
func (h *Handler) FatigueEvent(w http.ResponseWriter, r *http.Request) {
	var req FatigueEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	scorer, err := h.scorer()
	if err != nil {
		respondError(w, r, err)
		return
	}

	score, err := scorer.UpdateFatigue(r.Context(), req.UserID, req.EventType, req.IsRecovery)
	if err != nil {
		respondError(w, r, err)
		return
	}

	kind := "event"
	if req.IsRecovery {
		kind = "recovery"
	}
	h.Registry.RecordFatigueUpdate(kind)

	respondJSON(w, http.StatusOK, FatigueResponse{
		UserID: req.UserID,
		Score:  score,
		Level:  scorer.Level(score),
	})
}

// GetFatigue 查询人员疲劳分
func (h *Handler) GetFatigue(w http.ResponseWriter, r *http.Request) {
	scorer, err := h.scorer()
	if err != nil {
		respondError(w, r, err)
		return
	}

	userID := chi.URLParam(r, "userId")
	st, err := scorer.Get(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := FatigueResponse{UserID: userID, Score: st.Score, Level: scorer.Level(st.Score)}
	if !st.LastUpdated.IsZero() {
		resp.LastUpdated = &st.LastUpdated
	}
	respondJSON(w, http.StatusOK, resp)
}
