package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ComponentProber — проверка живости одного внешнего компонента
type ComponentProber interface {
	Status(ctx context.Context) (json.RawMessage, error)
}

// Pinger — проверка соединения с базой
type Pinger interface {
	Ping(ctx context.Context) error
}

type componentStatus struct {
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	ResponseMs int64  `json:"response_ms"`
}

type StatusHandler struct {
	engine ComponentProber
	host   ComponentProber
	db     Pinger
}

func NewStatusHandler(engine, host ComponentProber, db Pinger) *StatusHandler {
	return &StatusHandler{engine: engine, host: host, db: db}
}

// Get опрашивает компоненты моста. Ответ всегда 200: частичная
// недоступность — это данные, а не отказ самого статус-эндпоинта.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]componentStatus{
		"engine":   h.probe(ctx, h.engine),
		"host":     h.probe(ctx, h.host),
		"database": h.probeDB(ctx),
	}

	overall := "healthy"
	for _, c := range components {
		if !c.Healthy {
			overall = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}

func (h *StatusHandler) probe(ctx context.Context, p ComponentProber) componentStatus {
	start := time.Now()
	_, err := p.Status(ctx)
	st := componentStatus{Healthy: err == nil, ResponseMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

func (h *StatusHandler) probeDB(ctx context.Context) componentStatus {
	start := time.Now()
	err := h.db.Ping(ctx)
	st := componentStatus{Healthy: err == nil, ResponseMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
