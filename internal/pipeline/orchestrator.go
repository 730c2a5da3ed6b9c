package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/audit"
	"github.com/xela07ax/modbridge/internal/domain"
	"github.com/xela07ax/modbridge/internal/media"
)

// EventStore — операции хранилища событий, нужные конвейеру
type EventStore interface {
	CreateEvent(ctx context.Context, ev *domain.ModerationEvent) error
	MarkHashed(ctx context.Context, id string, raw json.RawMessage) error
	MarkFailed(ctx context.Context, id, note string) error
	MarkDegradedNoMatch(ctx context.Context, id string) error
	SetMatchOutcome(ctx context.Context, id string, summary *domain.MatchSummary, forceReview bool) error
	AttachReviewTask(ctx context.Context, id, taskID string) error
	RecordAction(ctx context.Context, id, action string) error
	AppendAudit(ctx context.Context, id string, entry map[string]interface{}) error
}

// MatchEngine — шлюз хэширования/матчинга (уже обернутый в reliability)
type MatchEngine interface {
	HashAndMatch(ctx context.Context, mediaBytes []byte) (*domain.MatchSet, json.RawMessage, error)
}

// ReviewQueue — шлюз эскалации на человеческое ревью
type ReviewQueue interface {
	CreateTask(ctx context.Context, esc domain.Escalation) (string, error)
}

// SubmitterList — проверка авторов с историей блокировок
type SubmitterList interface {
	IsListed(submitterID string) bool
}

// Settings — политики конвейера
type Settings struct {
	// Эскалация при дистанции лучшего кандидата <= порога
	EscalationThreshold float64
	// true: при отказе движка доводим событие до конца как degraded NO_MATCH;
	// false: FAILED
	DegradeOnEngineFailure bool
	RequestTimeout         time.Duration
}

// Orchestrator ведет сабмит через конвейер:
// submission -> hash -> match -> escalate -> respond.
// Каждый шаг персистентности независим: отказ эскалации не откатывает
// результат матчинга, отказ движка не теряет само событие.
type Orchestrator struct {
	store     EventStore
	engine    MatchEngine
	review    ReviewQueue
	watchlist SubmitterList
	trail     *audit.Trail
	metrics   *Metrics
	logger    *zap.Logger
	httpc     *http.Client // для медиа по URL
	settings  Settings
}

func NewOrchestrator(
	store EventStore,
	engine MatchEngine,
	review ReviewQueue,
	watchlist SubmitterList,
	trail *audit.Trail,
	metrics *Metrics,
	logger *zap.Logger,
	settings Settings,
) *Orchestrator {
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = 30 * time.Second
	}
	return &Orchestrator{
		store:     store,
		engine:    engine,
		review:    review,
		watchlist: watchlist,
		trail:     trail,
		metrics:   metrics,
		logger:    logger.With(zap.String("mod", "orchestrator")),
		httpc:     &http.Client{Timeout: settings.RequestTimeout},
		settings:  settings,
	}
}

// Submit принимает один сабмит контента и доводит его до терминального
// или ожидающего ревью состояния. Форма ответа стабильна: ошибки внешних
// сервисов не пробрасываются как статусы, а поглощаются в типизированные поля.
// Ошибка возвращается только если событие не удалось даже создать.
func (o *Orchestrator) Submit(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.RequestTimeout)
	defer cancel()

	// ШАГ 0: Валидация на границе — без события и без мутаций
	if sub.ContentID == "" || sub.SubmitterID == "" {
		return nil, fmt.Errorf("%w: content_id and submitter_id are required", domain.ErrInvalidInput)
	}
	if len(sub.Media.Bytes) == 0 && sub.Media.URL == "" {
		return nil, fmt.Errorf("%w: submission carries neither media bytes nor url", domain.ErrInvalidInput)
	}

	start := time.Now()
	traceID := ExtractTraceID(ctx)

	// ШАГ 1: Событие в RECEIVED — до любых внешних вызовов.
	// Если упало здесь, конвейер не видел этот сабмит вовсе.
	ev := &domain.ModerationEvent{
		ID:          uuid.New().String(),
		ContentID:   sub.ContentID,
		SubmitterID: sub.SubmitterID,
		State:       domain.StateReceived,
	}
	if err := retryPersist(ctx, func() error { return o.store.CreateEvent(ctx, ev) }); err != nil {
		return nil, err
	}

	// ШАГ 2: Медиа — байты напрямую или дереференс URL
	raw := sub.Media.Bytes
	if len(raw) == 0 {
		fetched, err := media.Fetch(ctx, o.httpc, sub.Media.URL)
		if err != nil {
			return o.reject(ctx, ev, traceID, start, "media fetch failed",
				fmt.Errorf("%w: %v", domain.ErrInvalidMedia, err))
		}
		raw = fetched
	}

	// ШАГ 3: Нормализация (RGB, даунскейл, JPEG) до похода в движок
	normalized, err := media.Normalize(raw)
	if err != nil {
		return o.reject(ctx, ev, traceID, start, "media rejected by preprocessing", err)
	}

	// ШАГ 4: Хэширование + матчинг через reliability-обертку
	hashStart := time.Now()
	set, rawResp, err := o.engine.HashAndMatch(ctx, normalized)
	o.observe(audit.StageHash, err, time.Since(hashStart))
	if err != nil {
		return o.handleEngineFailure(ctx, ev, traceID, start, err)
	}

	if err := retryPersist(ctx, func() error { return o.store.MarkHashed(ctx, ev.ID, rawResp) }); err != nil {
		return o.persistenceLost(ctx, ev, traceID, start, err)
	}
	ev.State = domain.StateHashed

	// ШАГ 5: Классификация исхода матчинга
	summary := set.Summary()
	escalate := summary != nil && summary.Distance <= o.settings.EscalationThreshold
	forced := false
	if !escalate && o.watchlist != nil && o.watchlist.IsListed(sub.SubmitterID) {
		// Автор с историей блокировок: на ревью даже без совпадений
		forced = true
	}

	if err := retryPersist(ctx, func() error { return o.store.SetMatchOutcome(ctx, ev.ID, summary, forced) }); err != nil {
		return o.persistenceLost(ctx, ev, traceID, start, err)
	}
	ev.Match = summary
	if summary != nil || forced {
		ev.State = domain.StateMatched
	} else {
		ev.State = domain.StateNoMatch
	}

	// ШАГ 6: Развилка — эскалация / закрытие события
	result := &domain.SubmissionResult{
		Success:   true,
		EventID:   ev.ID,
		ContentID: ev.ContentID,
		Matches:   set,
	}

	switch {
	case escalate || forced:
		o.escalate(ctx, ev, sub, normalized, forced, result)
	case summary != nil:
		// Кандидаты есть, но дальше порога эскалации: фиксируем и закрываем
		o.close(ctx, ev, "logged, match beyond escalation threshold")
	default:
		o.close(ctx, ev, "none, no match")
	}

	result.State = ev.State
	o.finish(ev, traceID, sub, start, string(ev.State), nil)
	return result, nil
}

// escalate создает задачу ревью и привязывает ее к событию.
// Отказ очереди ревью не валит запрос: событие закрывается с пометкой.
func (o *Orchestrator) escalate(ctx context.Context, ev *domain.ModerationEvent, sub domain.Submission, normalized []byte, forced bool, result *domain.SubmissionResult) {
	start := time.Now()
	reason := "match"
	if forced {
		reason = "watchlist"
	}

	// Thumbnail — best effort: ревью-задача полезна и без превью
	thumb, err := media.Thumbnail(normalized)
	if err != nil {
		o.logger.Warn("thumbnail generation failed", zap.String("event", ev.ID), zap.Error(err))
	}

	taskID, err := o.review.CreateTask(ctx, domain.Escalation{
		EventID:     ev.ID,
		ContentID:   ev.ContentID,
		SubmitterID: ev.SubmitterID,
		Match:       ev.Match,
		Thumbnail:   thumb,
		Reason:      reason,
	})
	if err != nil {
		o.logger.Warn("escalation failed, closing event",
			zap.String("event", ev.ID), zap.Error(err))
		o.appendAudit(ctx, ev.ID, map[string]interface{}{
			"kind": "escalation_failed", "reason": reason, "error": err.Error(),
		})
		o.close(ctx, ev, "logged, escalation failed")
		result.Review = &domain.ReviewStatus{Escalated: false}
		o.logEscalation(ctx, ev, reason, "FAILED", "", start, err)
		return
	}

	if err := retryPersist(ctx, func() error { return o.store.AttachReviewTask(ctx, ev.ID, taskID) }); err != nil {
		// Задача создана, но привязка не прошла (гонка или повторный сабмит).
		// Задачу не отзываем: решение по ней отобьется по корреляции.
		o.logger.Error("review task created but not attached",
			zap.String("event", ev.ID), zap.String("task", taskID), zap.Error(err))
		result.Review = &domain.ReviewStatus{Escalated: false}
		o.logEscalation(ctx, ev, reason, "FAILED", taskID, start, err)
		return
	}

	ev.State = domain.StateReviewPending
	ev.ReviewTaskID = &taskID
	result.Review = &domain.ReviewStatus{Escalated: true, TaskID: &taskID}
	o.logEscalation(ctx, ev, reason, "SUCCESS", taskID, start, nil)
}

// logEscalation — запись этапа эскалации в аудит-трейл
func (o *Orchestrator) logEscalation(ctx context.Context, ev *domain.ModerationEvent, reason, status, taskID string, start time.Time, cause error) {
	entry := audit.Event{
		ID:          uuid.New().String(),
		TraceID:     ExtractTraceID(ctx),
		ContentID:   ev.ContentID,
		SubmitterID: ev.SubmitterID,
		Stage:       audit.StageEscalate,
		Status:      status,
		Detail: map[string]interface{}{
			"event_id": ev.ID,
			"reason":   reason,
			"task_id":  taskID,
		},
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	o.trail.Log(entry)
}

// handleEngineFailure реализует политику деградации: движок лежит,
// но каждый сабмит обязан дойти до терминального состояния.
func (o *Orchestrator) handleEngineFailure(ctx context.Context, ev *domain.ModerationEvent, traceID string, start time.Time, cause error) (*domain.SubmissionResult, error) {
	var engineErr *domain.EngineError
	engineDown := errors.Is(cause, domain.ErrEngineUnavailable) || errors.As(cause, &engineErr)

	if !engineDown || !o.settings.DegradeOnEngineFailure {
		note := "engine call failed: " + domain.ErrorType(cause)
		if err := retryPersist(ctx, func() error { return o.store.MarkFailed(ctx, ev.ID, note) }); err != nil {
			o.logger.Error("mark failed after engine failure", zap.String("event", ev.ID), zap.Error(err))
		}
		ev.State = domain.StateFailed
		o.finish(ev, traceID, domain.Submission{ContentID: ev.ContentID, SubmitterID: ev.SubmitterID}, start, "FAILED", cause)
		return &domain.SubmissionResult{
			EventID:   ev.ID,
			ContentID: ev.ContentID,
			State:     domain.StateFailed,
			Error:     &domain.APIError{Type: domain.ErrorType(cause)},
		}, nil
	}

	// Деградация: RECEIVED -> NO_MATCH -> ACTION_TAKEN, результат ненадежен
	if err := retryPersist(ctx, func() error { return o.store.MarkDegradedNoMatch(ctx, ev.ID) }); err != nil {
		return o.persistenceLost(ctx, ev, traceID, start, err)
	}
	o.appendAudit(ctx, ev.ID, map[string]interface{}{
		"kind": "degraded", "error": cause.Error(),
	})
	o.close(ctx, ev, "logged, engine unavailable")

	ev.Degraded = true
	o.finish(ev, traceID, domain.Submission{ContentID: ev.ContentID, SubmitterID: ev.SubmitterID}, start, "DEGRADED", cause)
	return &domain.SubmissionResult{
		Success:   true,
		EventID:   ev.ID,
		ContentID: ev.ContentID,
		State:     ev.State,
		Matches:   &domain.MatchSet{Unreliable: true},
		Degraded:  true,
		Error:     &domain.APIError{Type: domain.ErrorType(cause)},
	}, nil
}

// reject — отказ до похода в движок (битое или недоступное медиа)
func (o *Orchestrator) reject(ctx context.Context, ev *domain.ModerationEvent, traceID string, start time.Time, note string, cause error) (*domain.SubmissionResult, error) {
	if err := retryPersist(ctx, func() error { return o.store.MarkFailed(ctx, ev.ID, note) }); err != nil {
		o.logger.Error("mark failed", zap.String("event", ev.ID), zap.Error(err))
	}
	ev.State = domain.StateFailed
	o.finish(ev, traceID, domain.Submission{ContentID: ev.ContentID, SubmitterID: ev.SubmitterID}, start, "REJECTED", cause)
	return &domain.SubmissionResult{
		EventID:   ev.ID,
		ContentID: ev.ContentID,
		State:     domain.StateFailed,
		Error:     &domain.APIError{Type: domain.ErrorType(cause)},
	}, nil
}

// persistenceLost — хранилище отказало посреди конвейера.
// Единственный класс, который отдаем наружу как отказ сервиса.
func (o *Orchestrator) persistenceLost(ctx context.Context, ev *domain.ModerationEvent, traceID string, start time.Time, cause error) (*domain.SubmissionResult, error) {
	o.logger.Error("pipeline persistence failure",
		zap.String("event", ev.ID), zap.Error(cause))
	o.finish(ev, traceID, domain.Submission{ContentID: ev.ContentID, SubmitterID: ev.SubmitterID}, start, "FAILED", cause)
	return &domain.SubmissionResult{
		EventID:   ev.ID,
		ContentID: ev.ContentID,
		State:     ev.State,
		Error:     &domain.APIError{Type: domain.ErrorType(cause)},
	}, nil
}

// close переводит событие в ACTION_TAKEN с заданным действием
func (o *Orchestrator) close(ctx context.Context, ev *domain.ModerationEvent, action string) {
	if err := retryPersist(ctx, func() error { return o.store.RecordAction(ctx, ev.ID, action) }); err != nil {
		o.logger.Error("record action failed",
			zap.String("event", ev.ID), zap.String("action", action), zap.Error(err))
		return
	}
	ev.State = domain.StateActionTaken
	ev.ActionTaken = action
}

func (o *Orchestrator) appendAudit(ctx context.Context, id string, entry map[string]interface{}) {
	if err := retryPersist(ctx, func() error { return o.store.AppendAudit(ctx, id, entry) }); err != nil {
		o.logger.Error("audit append failed", zap.String("event", id), zap.Error(err))
	}
}

// finish — финальный аудит и метрики сабмита
func (o *Orchestrator) finish(ev *domain.ModerationEvent, traceID string, sub domain.Submission, start time.Time, status string, cause error) {
	entry := audit.Event{
		ID:          uuid.New().String(),
		TraceID:     traceID,
		ContentID:   ev.ContentID,
		SubmitterID: ev.SubmitterID,
		Stage:       audit.StageSubmission,
		Status:      status,
		Detail:      map[string]interface{}{"event_id": ev.ID, "state": string(ev.State)},
		Timestamp:   start,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	o.trail.Log(entry)

	degraded := "false"
	if ev.Degraded {
		degraded = "true"
	}
	o.metrics.SubmissionsTotal.WithLabelValues(string(ev.State), degraded).Inc()
	o.metrics.StageDuration.WithLabelValues(audit.StageSubmission, status).Observe(time.Since(start).Seconds())
	if cause != nil {
		o.metrics.ErrorTotal.WithLabelValues(domain.ErrorType(cause)).Inc()
	}
}

func (o *Orchestrator) observe(stage string, err error, d time.Duration) {
	status := "SUCCESS"
	if err != nil {
		status = "FAILED"
	}
	o.metrics.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}
