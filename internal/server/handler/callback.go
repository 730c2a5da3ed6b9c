package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/domain"
)

// CallbackReconciler Описываем, что нам нужно от обработчика колбэков
type CallbackReconciler interface {
	HandleEngineCallback(ctx context.Context, cb *domain.EngineCallback) error
	ApplyReviewDecision(ctx context.Context, cb *domain.ReviewCallback) (*domain.DecisionOutcome, error)
}

type CallbackHandler struct {
	reconciler CallbackReconciler
	logger     *zap.Logger
}

func NewCallbackHandler(rc CallbackReconciler, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{reconciler: rc, logger: logger.Named("callback-api")}
}

// Engine — вебхук движка (подпись уже проверена middleware)
func (h *CallbackHandler) Engine(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	cb, err := domain.ParseEngineCallback(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorType(err), err.Error())
		return
	}

	if err := h.reconciler.HandleEngineCallback(r.Context(), cb); err != nil {
		h.logger.Error("engine callback processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, domain.ErrorType(err), "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "acknowledged"})
}

// Review — решение модератора из очереди ревью
func (h *CallbackHandler) Review(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	cb, err := domain.ParseReviewCallback(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorType(err), err.Error())
		return
	}

	outcome, err := h.reconciler.ApplyReviewDecision(r.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCorrelationMismatch):
			// Решение по незнакомой или чужой задаче: отказ без мутаций
			writeError(w, http.StatusConflict, domain.ErrorType(err), err.Error())
		case errors.Is(err, domain.ErrEventNotFound):
			writeError(w, http.StatusNotFound, domain.ErrorType(err), "")
		default:
			h.logger.Error("review decision processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, domain.ErrorType(err), "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":   string(outcome.Status),
		"event_id": outcome.Event.ID,
		"state":    string(outcome.Event.State),
	})
}
