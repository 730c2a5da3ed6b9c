package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/audit"
	"github.com/xela07ax/modbridge/internal/domain"
	"github.com/xela07ax/modbridge/internal/infra"
)

// DecisionStore — операции хранилища, нужные обработчику решений
type DecisionStore interface {
	LatestForPair(ctx context.Context, contentID, submitterID string) (*domain.ModerationEvent, error)
	HistoryForContent(ctx context.Context, contentID string) ([]*domain.ModerationEvent, error)
	ApplyDecision(ctx context.Context, taskID string, decision domain.ReviewDecision, decidedAt time.Time) (*domain.DecisionOutcome, error)
	UpgradeMatchSummary(ctx context.Context, id string, summary *domain.MatchSummary) error
	RecordAction(ctx context.Context, id, action string) error
	AppendAudit(ctx context.Context, id string, entry map[string]interface{}) error
}

// ContentHost — шлюз контент-хоста для takedown
type ContentHost interface {
	Takedown(ctx context.Context, contentID, reason string, match *domain.MatchSummary) error
}

// BlockTracker — учет решений BLOCK по авторам (watchlist)
type BlockTracker interface {
	RecordBlock(ctx context.Context, submitterID string)
}

// Reconciler сводит асинхронные колбэки (решения ревью, вебхуки движка)
// с состоянием событий. Ключ корреляции — review_task_id плюс пара
// (content_id, submitter_id) из client_context.
type Reconciler struct {
	store     DecisionStore
	host      ContentHost
	watchlist BlockTracker
	rdb       *redis.Client
	trail     *audit.Trail
	metrics   *Metrics
	logger    *zap.Logger
}

func NewReconciler(
	store DecisionStore,
	host ContentHost,
	watchlist BlockTracker,
	rdb *redis.Client,
	trail *audit.Trail,
	metrics *Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		host:      host,
		watchlist: watchlist,
		rdb:       rdb,
		trail:     trail,
		metrics:   metrics,
		logger:    logger.With(zap.String("mod", "reconciler")),
	}
}

// ApplyReviewDecision применяет решение модератора к событию.
// Идемпотентно: повторная доставка того же решения — duplicate без мутаций.
// Конфликт решений до исполнения действия — last-write-wins (superseded),
// после исполнения — только запись в аудит (late_conflict).
func (rc *Reconciler) ApplyReviewDecision(ctx context.Context, cb *domain.ReviewCallback) (*domain.DecisionOutcome, error) {
	start := time.Now()

	// 1. Корреляция: событие ищем по паре из client_context,
	// привязку подтверждаем по task_id
	var ev *domain.ModerationEvent
	err := retryPersist(ctx, func() error {
		var lerr error
		ev, lerr = rc.store.LatestForPair(ctx, cb.Context.ContentID, cb.Context.SubmitterID)
		return lerr
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			// Пара вовсе не известна мосту: not found, а не конфликт корреляции
			rc.observeCallback("review", "not_found", start)
			return nil, fmt.Errorf("%w: no event for pair (%s, %s)",
				domain.ErrEventNotFound, cb.Context.ContentID, cb.Context.SubmitterID)
		}
		return nil, err
	}
	if err := ev.CanDecide(cb.TaskID); err != nil {
		rc.observeCallback("review", "correlation_mismatch", start)
		return nil, err
	}

	// 2. Транзакционное применение решения (CAS внутри хранилища)
	var outcome *domain.DecisionOutcome
	err = retryPersist(ctx, func() error {
		var aerr error
		outcome, aerr = rc.store.ApplyDecision(ctx, cb.TaskID, cb.Decision, cb.DecidedAt)
		return aerr
	})
	if err != nil {
		return nil, err
	}

	rc.logDecision(cb, outcome, start)

	// 3. Побочные действия — только для решений, ставших действующими
	switch outcome.Status {
	case domain.DecisionApplied, domain.DecisionSuperseded:
		rc.act(ctx, outcome.Event, cb.Decision)
	case domain.DecisionDuplicate, domain.DecisionLateConflict:
		// Подтверждаем без побочных эффектов
	}

	// 4. Трансляция решения остальным инстансам (дашборды, кэши)
	payload := fmt.Sprintf("%s:%s", cb.TaskID, cb.Decision)
	if err := rc.rdb.Publish(ctx, infra.RedisChanReviewDecisions, payload).Err(); err != nil {
		rc.logger.Warn("decision broadcast failed", zap.Error(err))
	}

	return outcome, nil
}

// act исполняет действующее решение: BLOCK — retried takedown на хосте,
// APPROVE — закрытие без действия. Исход фиксируется в action_taken всегда.
func (rc *Reconciler) act(ctx context.Context, ev *domain.ModerationEvent, decision domain.ReviewDecision) {
	start := time.Now()
	action := "approved, no action"

	if decision == domain.DecisionBlock {
		// BLOCK: до трех попыток takedown, исход пишем в любом случае
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(500*time.Millisecond),
		)
		err := r.Do(func() error {
			return rc.host.Takedown(ctx, ev.ContentID, "review_block", ev.Match)
		})

		action = "takedown"
		if err != nil {
			action = "logged, takedown failed"
			rc.logger.Error("host takedown failed after retries",
				zap.String("event", ev.ID), zap.String("content", ev.ContentID), zap.Error(err))
			if aerr := retryPersist(ctx, func() error {
				return rc.store.AppendAudit(ctx, ev.ID, map[string]interface{}{
					"kind": "takedown_failed", "error": err.Error(),
				})
			}); aerr != nil {
				rc.logger.Error("audit append failed", zap.String("event", ev.ID), zap.Error(aerr))
			}
		}
	}

	if err := retryPersist(ctx, func() error { return rc.store.RecordAction(ctx, ev.ID, action) }); err != nil {
		rc.logger.Error("record action", zap.String("event", ev.ID), zap.String("action", action), zap.Error(err))
	}

	if decision == domain.DecisionBlock && rc.watchlist != nil {
		rc.watchlist.RecordBlock(ctx, ev.SubmitterID)
	}

	rc.trail.Log(audit.Event{
		ID:          uuid.New().String(),
		ContentID:   ev.ContentID,
		SubmitterID: ev.SubmitterID,
		Stage:       audit.StageAction,
		Status:      action,
		Detail: map[string]interface{}{
			"event_id": ev.ID,
			"decision": string(decision),
		},
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// HandleEngineCallback обрабатывает вебхук движка. Событий не создает.
// match_found может дообогатить матч события, еще не ушедшего в решение;
// остальные варианты (включая незнакомые) логируются и подтверждаются.
func (rc *Reconciler) HandleEngineCallback(ctx context.Context, cb *domain.EngineCallback) error {
	start := time.Now()

	switch cb.Kind {
	case domain.KindMatchFound:
		return rc.handleMatchFound(ctx, cb, start)

	case domain.KindIndexUpdated:
		rc.logger.Info("engine index updated", zap.String("content", cb.ContentID))
		rc.observeCallback("index_updated", "acknowledged", start)
		return nil

	case domain.KindEngineError:
		rc.logger.Warn("engine reported error", zap.String("detail", cb.ErrorInfo))
		rc.observeCallback("error", "acknowledged", start)
		return nil

	default:
		rc.logger.Info("unrecognized engine callback acknowledged",
			zap.ByteString("payload", cb.Raw))
		rc.observeCallback("unrecognized", "acknowledged", start)
		return nil
	}
}

func (rc *Reconciler) handleMatchFound(ctx context.Context, cb *domain.EngineCallback, start time.Time) error {
	var history []*domain.ModerationEvent
	err := retryPersist(ctx, func() error {
		var herr error
		history, herr = rc.store.HistoryForContent(ctx, cb.ContentID)
		return herr
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		// Незнакомый контент: фиксируем факт, событие не создаем
		rc.logger.Info("match_found for unknown content", zap.String("content", cb.ContentID))
		rc.observeCallback("match_found", "unknown_content", start)
		return nil
	}

	ev := history[0] // самое свежее событие по контенту
	if aerr := retryPersist(ctx, func() error {
		return rc.store.AppendAudit(ctx, ev.ID, map[string]interface{}{
			"kind": "engine_callback_match", "payload": string(cb.Raw),
		})
	}); aerr != nil {
		rc.logger.Error("audit append failed", zap.String("event", ev.ID), zap.Error(aerr))
	}

	// Дообогащение: только до решения и только если матч строже сохраненного
	if cb.Match != nil && (ev.State == domain.StateMatched || ev.State == domain.StateReviewPending) {
		if ev.Match == nil || cb.Match.Distance < ev.Match.Distance {
			summary := &domain.MatchSummary{
				BankID:      cb.Match.BankID,
				MatchedHash: cb.Match.MatchedHash,
				Distance:    cb.Match.Distance,
			}
			if uerr := retryPersist(ctx, func() error { return rc.store.UpgradeMatchSummary(ctx, ev.ID, summary) }); uerr != nil {
				rc.logger.Warn("match summary upgrade skipped",
					zap.String("event", ev.ID), zap.Error(uerr))
			}
		}
	}

	rc.observeCallback("match_found", "recorded", start)
	return nil
}

func (rc *Reconciler) logDecision(cb *domain.ReviewCallback, outcome *domain.DecisionOutcome, start time.Time) {
	rc.trail.Log(audit.Event{
		ID:          uuid.New().String(),
		ContentID:   cb.Context.ContentID,
		SubmitterID: cb.Context.SubmitterID,
		Stage:       audit.StageDecision,
		Status:      string(outcome.Status),
		Detail: map[string]interface{}{
			"task_id":  cb.TaskID,
			"decision": string(cb.Decision),
			"event_id": outcome.Event.ID,
		},
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	})
	rc.observeCallback("review", string(outcome.Status), start)
}

func (rc *Reconciler) observeCallback(kind, result string, start time.Time) {
	rc.metrics.CallbacksTotal.WithLabelValues(kind, result).Inc()
	rc.metrics.StageDuration.WithLabelValues(audit.StageCallback, result).Observe(time.Since(start).Seconds())
}
