package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EngineCallbackKind — закрытый набор вариантов колбэка движка.
// Любой незнакомый event_type сознательно превращается в KindUnrecognized:
// его логируют и подтверждают без побочных эффектов, вместо того чтобы
// таскать нетипизированную мапу через весь конвейер.
type EngineCallbackKind string

const (
	KindMatchFound   EngineCallbackKind = "match_found"
	KindIndexUpdated EngineCallbackKind = "index_updated"
	KindEngineError  EngineCallbackKind = "error"
	KindUnrecognized EngineCallbackKind = "unrecognized"
)

// EngineCallback — типизированный колбэк от движка хэширования/матчинга
type EngineCallback struct {
	Kind      EngineCallbackKind
	ContentID string
	Match     *MatchCandidate
	ErrorInfo string
	Raw       json.RawMessage // сохраняем как есть для аудита
}

type engineCallbackWire struct {
	EventType string `json:"event_type"`
	ContentID string `json:"content_id"`
	MatchInfo *struct {
		BankID      string            `json:"bank_id"`
		MatchedHash string            `json:"matched_hash"`
		Distance    float64           `json:"distance"`
		Metadata    map[string]string `json:"metadata"`
	} `json:"match_info"`
	ErrorInfo json.RawMessage `json:"error_info"`
}

// ParseEngineCallback валидирует payload на границе.
// Отсутствие event_type — это invalid_input; незнакомый тип — нет.
func ParseEngineCallback(body []byte) (*EngineCallback, error) {
	var wire engineCallbackWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed engine callback: %v", ErrInvalidInput, err)
	}
	if wire.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", ErrInvalidInput)
	}

	cb := &EngineCallback{ContentID: wire.ContentID, Raw: body}

	switch EngineCallbackKind(wire.EventType) {
	case KindMatchFound:
		cb.Kind = KindMatchFound
		if wire.ContentID == "" {
			return nil, fmt.Errorf("%w: match_found without content_id", ErrInvalidInput)
		}
		if wire.MatchInfo != nil {
			cb.Match = &MatchCandidate{
				BankID:      wire.MatchInfo.BankID,
				MatchedHash: wire.MatchInfo.MatchedHash,
				Distance:    wire.MatchInfo.Distance,
				Metadata:    wire.MatchInfo.Metadata,
			}
		}
	case KindIndexUpdated:
		cb.Kind = KindIndexUpdated
	case KindEngineError:
		cb.Kind = KindEngineError
		cb.ErrorInfo = string(wire.ErrorInfo)
	default:
		cb.Kind = KindUnrecognized
	}

	return cb, nil
}

// ClientContext — контекст, который мы зашиваем в задачу ревью.
// Его достаточно, чтобы скоррелировать асинхронное решение с событием
// без отдельной таблицы соответствий.
type ClientContext struct {
	EventID     string `json:"event_id"`
	ContentID   string `json:"content_id"`
	SubmitterID string `json:"submitter_id"`
}

// ReviewCallback — решение модератора, прилетевшее из очереди ревью
type ReviewCallback struct {
	TaskID    string
	Context   ClientContext
	Decision  ReviewDecision
	DecidedAt time.Time
	Raw       json.RawMessage
}

type reviewCallbackWire struct {
	TaskID        string `json:"task_id"`
	ClientContext string `json:"client_context"` // JSON-строка, как положили при эскалации
	Decision      string `json:"decision"`
	DecisionTime  string `json:"decision_time"`
}

// ParseReviewCallback разбирает колбэк очереди ревью.
// Битый client_context или неизвестное решение — отказ 4xx без мутаций.
func ParseReviewCallback(body []byte) (*ReviewCallback, error) {
	var wire reviewCallbackWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: malformed review callback: %v", ErrInvalidInput, err)
	}
	if wire.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", ErrInvalidInput)
	}

	var cctx ClientContext
	if err := json.Unmarshal([]byte(wire.ClientContext), &cctx); err != nil {
		return nil, fmt.Errorf("%w: malformed client_context: %v", ErrInvalidInput, err)
	}
	if cctx.ContentID == "" || cctx.SubmitterID == "" {
		return nil, fmt.Errorf("%w: client_context missing content_id/submitter_id", ErrInvalidInput)
	}

	var decision ReviewDecision
	switch ReviewDecision(wire.Decision) {
	case DecisionApprove:
		decision = DecisionApprove
	case DecisionBlock:
		decision = DecisionBlock
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, wire.Decision)
	}

	decidedAt := time.Now().UTC()
	if wire.DecisionTime != "" {
		if t, err := time.Parse(time.RFC3339, wire.DecisionTime); err == nil {
			decidedAt = t
		}
	}

	return &ReviewCallback{
		TaskID:    wire.TaskID,
		Context:   cctx,
		Decision:  decision,
		DecidedAt: decidedAt,
		Raw:       body,
	}, nil
}
