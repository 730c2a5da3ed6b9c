package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/modbridge/internal/domain"
	"github.com/xela07ax/modbridge/internal/repository/postgres"
)

// EventQuery Описываем, что нам нужно от хранилища для Query API
type EventQuery interface {
	GetByID(ctx context.Context, id string) (*domain.ModerationEvent, error)
	ListEvents(ctx context.Context, crit postgres.ListCriteria) ([]*domain.ModerationEvent, error)
	HistoryForContent(ctx context.Context, contentID string) ([]*domain.ModerationEvent, error)
}

type EventHandler struct {
	query EventQuery
}

func NewEventHandler(q EventQuery) *EventHandler {
	return &EventHandler{query: q}
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.query.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch event", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	crit := postgres.ListCriteria{
		ContentID: q.Get("content_id"),
		State:     q.Get("state"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		crit.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		crit.Offset = v
	}

	list, err := h.query.ListEvents(r.Context(), crit)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// History — полный след модерации по одному контенту, свежие записи первыми
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	list, err := h.query.HistoryForContent(r.Context(), contentID)
	if err != nil {
		http.Error(w, "failed to fetch history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
