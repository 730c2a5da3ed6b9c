package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SubmitterDelister — операторское снятие автора со списка принудительной эскалации
type SubmitterDelister interface {
	Remove(ctx context.Context, submitterID string) error
}

type WatchlistHandler struct {
	list   SubmitterDelister
	logger *zap.Logger
}

func NewWatchlistHandler(list SubmitterDelister, logger *zap.Logger) *WatchlistHandler {
	return &WatchlistHandler{list: list, logger: logger.Named("watchlist-api")}
}

// Delist снимает автора с watchlist и обнуляет его счетчик блокировок
func (h *WatchlistHandler) Delist(w http.ResponseWriter, r *http.Request) {
	submitterID := chi.URLParam(r, "submitterID")
	if submitterID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "submitter id is required")
		return
	}

	if err := h.list.Remove(r.Context(), submitterID); err != nil {
		h.logger.Error("watchlist delist failed",
			zap.String("submitter", submitterID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "")
		return
	}

	h.logger.Info("submitter delisted", zap.String("submitter", submitterID))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":       "removed",
		"submitter_id": submitterID,
	})
}
