package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
	"github.com/xela07ax/promptguard-dashboard/internal/engine"
)

// DashboardState Описываем, что нам нужно от состояния дашборда
type DashboardState interface {
	Snapshot() domain.Snapshot
	History() []domain.PromptRecord
}

// Submitter — ручная отправка промпта (engine.Dispatcher).
type Submitter interface {
	Submit(ctx context.Context, prompt string) (domain.Verdict, error)
}

type DashboardHandler struct {
	state     DashboardState
	submitter Submitter
	logger    *zap.Logger
}

func NewDashboardHandler(state DashboardState, submitter Submitter, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{state: state, submitter: submitter, logger: logger}
}

// GetSnapshot GET /api/v1/dashboard
func (h *DashboardHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

// GetPrompts GET /api/v1/prompts — последние промпты ленты, самый новый первым.
func (h *DashboardHandler) GetPrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": h.state.History()})
}

type analyzeRequest struct {
	Prompt string `json:"prompt"`
}

type analyzeResponse struct {
	Verdict  domain.Verdict  `json:"verdict,omitempty"`
	Error    string          `json:"error,omitempty"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// Analyze POST /api/v1/analyze — синхронный прогон, в ответе итоговый снимок.
func (h *DashboardHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	verdict, err := h.submitter.Submit(r.Context(), req.Prompt)
	switch {
	case errors.Is(err, engine.ErrEmptyPrompt):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, engine.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		// Ошибка шлюза уже отражена в логе дашборда, отдаем снимок с 502
		h.logger.Warn("analyze failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, analyzeResponse{Error: err.Error(), Snapshot: h.state.Snapshot()})
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{Verdict: verdict, Snapshot: h.state.Snapshot()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
