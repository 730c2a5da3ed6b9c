package audit

import "time"

// Стадии конвейера, попадающие в аудит-трейл
const (
	StageSubmission = "submission"
	StageHash       = "hash"
	StageEscalate   = "escalate"
	StageCallback   = "callback"
	StageDecision   = "decision"
	StageAction     = "action"
)

type Event struct {
	ID          string                 `json:"id"`           // UUID записи
	TraceID     string                 `json:"trace_id"`     // Сквозной ID запроса
	ContentID   string                 `json:"content_id"`   // Какой контент
	SubmitterID string                 `json:"submitter_id"` // Чей контент
	Stage       string                 `json:"stage"`        // Этап конвейера
	Status      string                 `json:"status"`       // "SUCCESS", "FAILED", "DEGRADED", "REJECTED"
	Detail      map[string]interface{} `json:"detail"`       // Контекст этапа

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error"`
}
