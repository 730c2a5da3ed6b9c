package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// EventState Состояния конвейера модерации (State Machine)
type EventState string

const (
	StateReceived      EventState = "RECEIVED"       // Сабмит принят, ничего не сделано
	StateHashed        EventState = "HASHED"         // Движок вернул перцептивный хэш
	StateMatched       EventState = "MATCHED"        // Есть кандидаты в банках
	StateNoMatch       EventState = "NO_MATCH"       // Кандидатов нет (или деградация)
	StateReviewPending EventState = "REVIEW_PENDING" // Создана задача в очереди ревью
	StateReviewDecided EventState = "REVIEW_DECIDED" // Получено решение модератора
	StateActionTaken   EventState = "ACTION_TAKEN"   // Финальное действие зафиксировано
	StateFailed        EventState = "FAILED"         // Пайплайн прерван (терминальное)
)

// ReviewDecision Решение модератора по задаче ревью
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "APPROVE"
	DecisionBlock   ReviewDecision = "BLOCK"
)

var (
	ErrInvalidTransition   = errors.New("invalid event state transition")
	ErrEventNotFound       = errors.New("moderation event not found")
	ErrCorrelationMismatch = errors.New("callback correlation key does not match stored review task")
	ErrReviewTaskAttached  = errors.New("review task id is already set and immutable")
)

// transitions — закрытый граф переходов конвейера.
// Переход RECEIVED -> NO_MATCH существует только для режима деградации:
// движок недоступен, но конвейер обязан довести событие до конца.
var transitions = map[EventState][]EventState{
	StateReceived:      {StateHashed, StateFailed, StateNoMatch},
	StateHashed:        {StateMatched, StateNoMatch},
	StateMatched:       {StateReviewPending, StateActionTaken},
	StateNoMatch:       {StateActionTaken},
	StateReviewPending: {StateReviewDecided},
	StateReviewDecided: {StateActionTaken},
}

// CanTransitionTo проверяет правила конечного автомата.
// Состояния монотонны: регресс (например, REVIEW_DECIDED -> REVIEW_PENDING) запрещен всегда.
func (s EventState) CanTransitionTo(next EventState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal — из терминального состояния событие уже не двигается
func (s EventState) Terminal() bool {
	return s == StateActionTaken || s == StateFailed
}

// MatchSummary — лучший (минимальная дистанция) кандидат, сохраненный в событии
type MatchSummary struct {
	BankID      string  `json:"bank_id"`
	MatchedHash string  `json:"matched_hash"`
	Distance    float64 `json:"distance"`
}

// ModerationEvent — одна запись на одну попытку сабмита контента.
// Источник правды по состоянию конвейера. Записи никогда не удаляются
// (append-only аудит), статусные поля мутируются in-place для дешевых выборок.
type ModerationEvent struct {
	ID          string     `json:"id"`
	ContentID   string     `json:"content_id"`
	SubmitterID string     `json:"submitter_id"`
	State       EventState `json:"state"`

	Match *MatchSummary `json:"match,omitempty"`

	// Ключ корреляции с очередью ревью. Выставляется не более одного раза.
	ReviewTaskID   *string         `json:"review_task_id,omitempty"`
	ReviewDecision *ReviewDecision `json:"review_decision,omitempty"`

	ActionTaken string `json:"action_taken,omitempty"`

	// Degraded — хэширование не состоялось, результат помечен как ненадежный
	Degraded bool `json:"degraded"`

	// Сырой ответ движка и накопительный аудит-след (JSONB-массив).
	// Аудит только дописывается: вытесненные решения не теряются.
	RawEngineResponse json.RawMessage `json:"raw_engine_response,omitempty"`
	AuditTrail        json.RawMessage `json:"audit_trail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanDecide проверяет, что решение ревью вообще применимо к событию:
// без привязанной задачи ревью решение записывать нельзя.
func (e *ModerationEvent) CanDecide(taskID string) error {
	if e.ReviewTaskID == nil {
		return ErrCorrelationMismatch
	}
	if *e.ReviewTaskID != taskID {
		return ErrCorrelationMismatch
	}
	return nil
}
