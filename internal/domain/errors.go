package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок конвейера (см. политику распространения в server/handler):
// engine_unavailable / engine_error поглощаются — конвейер деградирует;
// invalid_input / authentication_failure отдаются вызывающему без мутаций;
// persistence_failure — единственный фатальный класс для текущего запроса.
var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrInvalidMedia      = errors.New("invalid media")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAuthFailure       = errors.New("authentication failure")
)

// EngineError — корректно оформленный отказ внешнего сервиса (не сетевой сбой)
type EngineError struct {
	Code   int
	Detail string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error: code=%d detail=%s", e.Code, e.Detail)
}

// PersistenceError угрожает инварианту аудита, поэтому несет контекст операции
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorType маппит ошибку в стабильный строковый код для API-ответов и метрик
func ErrorType(err error) string {
	var engineErr *EngineError
	var persistErr *PersistenceError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.As(err, &engineErr):
		return "engine_error"
	case errors.Is(err, ErrInvalidMedia):
		return "invalid_media"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAuthFailure):
		return "authentication_failure"
	case errors.Is(err, ErrCorrelationMismatch):
		return "correlation_mismatch"
	case errors.Is(err, ErrEventNotFound):
		return "not_found"
	case errors.As(err, &persistErr):
		return "persistence_failure"
	default:
		return "internal"
	}
}
