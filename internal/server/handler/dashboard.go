package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/modbridge/internal/domain"
)

// DashboardQuery Описываем, что нам нужно от хранилища
type DashboardQuery interface {
	DashboardStats(ctx context.Context) (*domain.PipelineStats, error)
}

type DashboardHandler struct {
	query DashboardQuery
}

func NewDashboardHandler(q DashboardQuery) *DashboardHandler {
	return &DashboardHandler{query: q}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.DashboardStats(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
