package postgres

/*
Файл event_repo.go — жизненный цикл ModerationEvent.

Event Store монопольно владеет записями: создание на сабмите, мутации на
hash/match/escalate/decide, удаления нет (append-only семантика аудита,
статусные поля in-place для дешевых выборок). Все переходы состояний делаются
условными UPDATE с guard-ом по текущему состоянию (compare-and-set), а
применение решений ревью — через SELECT ... FOR UPDATE, чтобы переплетение
записи хэша и колбэка решения на одной строке не теряло обновлений.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/modbridge/internal/domain"
)

const eventColumns = `id, content_id, submitter_id, state, match_bank, match_hash, match_distance,
	review_task_id, review_decision, action_taken, degraded, raw_engine_response, audit_trail,
	created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.ModerationEvent, error) {
	var ev domain.ModerationEvent
	var bank, matchHash, taskID, decision sql.NullString
	var distance sql.NullFloat64
	var raw, trail []byte

	err := row.Scan(
		&ev.ID, &ev.ContentID, &ev.SubmitterID, &ev.State,
		&bank, &matchHash, &distance,
		&taskID, &decision, &ev.ActionTaken, &ev.Degraded,
		&raw, &trail,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Маппим NULL значения (нет матча / нет эскалации / нет решения)
	if bank.Valid {
		ev.Match = &domain.MatchSummary{
			BankID:      bank.String,
			MatchedHash: matchHash.String,
			Distance:    distance.Float64,
		}
	}
	if taskID.Valid {
		val := taskID.String
		ev.ReviewTaskID = &val
	}
	if decision.Valid {
		val := domain.ReviewDecision(decision.String)
		ev.ReviewDecision = &val
	}
	ev.RawEngineResponse = raw
	ev.AuditTrail = trail

	return &ev, nil
}

// CreateEvent фиксирует новый сабмит в состоянии RECEIVED.
// Конкурентные сабмиты одной пары (content_id, submitter_id) не склеиваются:
// каждый получает собственную строку.
func (r *EventRepo) CreateEvent(ctx context.Context, ev *domain.ModerationEvent) error {
	query := `
		INSERT INTO moderation_events (id, content_id, submitter_id, state, degraded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, ev.ID, ev.ContentID, ev.SubmitterID, domain.StateReceived, false).
		Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return &domain.PersistenceError{Op: "create_event", Err: err}
	}
	ev.State = domain.StateReceived
	return nil
}

// MarkHashed переводит RECEIVED -> HASHED и сохраняет сырой ответ движка
func (r *EventRepo) MarkHashed(ctx context.Context, id string, raw json.RawMessage) error {
	query := `
		UPDATE moderation_events
		SET state = $2, raw_engine_response = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4`

	ct, err := r.pool.Exec(ctx, query, id, domain.StateHashed, raw, domain.StateReceived)
	if err != nil {
		return &domain.PersistenceError{Op: "mark_hashed", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkFailed переводит RECEIVED -> FAILED (терминальное) с пометкой причины
func (r *EventRepo) MarkFailed(ctx context.Context, id, note string) error {
	query := `
		UPDATE moderation_events
		SET state = $2, action_taken = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4`

	ct, err := r.pool.Exec(ctx, query, id, domain.StateFailed, note, domain.StateReceived)
	if err != nil {
		return &domain.PersistenceError{Op: "mark_failed", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkDegradedNoMatch — режим деградации: движок не ответил, событие
// доводится до NO_MATCH с флагом ненадежности вместо обрыва конвейера
func (r *EventRepo) MarkDegradedNoMatch(ctx context.Context, id string) error {
	query := `
		UPDATE moderation_events
		SET state = $2, degraded = TRUE, updated_at = NOW()
		WHERE id = $1 AND state = $3`

	ct, err := r.pool.Exec(ctx, query, id, domain.StateNoMatch, domain.StateReceived)
	if err != nil {
		return &domain.PersistenceError{Op: "mark_degraded", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetMatchOutcome классифицирует HASHED -> MATCHED / NO_MATCH.
// summary == nil означает пустой набор кандидатов; forceReview переводит
// событие в MATCHED даже без кандидатов (watchlist-эскалация).
func (r *EventRepo) SetMatchOutcome(ctx context.Context, id string, summary *domain.MatchSummary, forceReview bool) error {
	var ct interface{ RowsAffected() int64 }
	var err error

	if summary == nil {
		next := domain.StateNoMatch
		if forceReview {
			next = domain.StateMatched
		}
		query := `
			UPDATE moderation_events
			SET state = $2, updated_at = NOW()
			WHERE id = $1 AND state = $3`
		ct, err = r.pool.Exec(ctx, query, id, next, domain.StateHashed)
	} else {
		query := `
			UPDATE moderation_events
			SET state = $2, match_bank = $3, match_hash = $4, match_distance = $5, updated_at = NOW()
			WHERE id = $1 AND state = $6`
		ct, err = r.pool.Exec(ctx, query,
			id, domain.StateMatched, summary.BankID, summary.MatchedHash, summary.Distance, domain.StateHashed)
	}

	if err != nil {
		return &domain.PersistenceError{Op: "set_match_outcome", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// UpgradeMatchSummary обновляет сохраненный лучший матч по асинхронному
// колбэку движка. Работает только до решения ревью: после REVIEW_DECIDED
// матч заморожен как контекст принятого решения.
func (r *EventRepo) UpgradeMatchSummary(ctx context.Context, id string, summary *domain.MatchSummary) error {
	query := `
		UPDATE moderation_events
		SET match_bank = $2, match_hash = $3, match_distance = $4, updated_at = NOW()
		WHERE id = $1 AND state = ANY($5)`

	allowed := []string{string(domain.StateMatched), string(domain.StateReviewPending)}
	ct, err := r.pool.Exec(ctx, query, id, summary.BankID, summary.MatchedHash, summary.Distance, allowed)
	if err != nil {
		return &domain.PersistenceError{Op: "upgrade_match_summary", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// AttachReviewTask связывает событие с задачей ревью и переводит в REVIEW_PENDING.
// Guard по review_task_id IS NULL: ключ корреляции выставляется не более
// одного раза и дальше иммутабелен — молча перезаписать его нельзя.
func (r *EventRepo) AttachReviewTask(ctx context.Context, id, taskID string) error {
	query := `
		UPDATE moderation_events
		SET state = $2, review_task_id = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4 AND review_task_id IS NULL`

	ct, err := r.pool.Exec(ctx, query, id, domain.StateReviewPending, taskID, domain.StateMatched)
	if err != nil {
		return &domain.PersistenceError{Op: "attach_review_task", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrReviewTaskAttached
	}
	return nil
}

// RecordAction фиксирует финальное действие и закрывает событие (ACTION_TAKEN)
func (r *EventRepo) RecordAction(ctx context.Context, id, action string) error {
	query := `
		UPDATE moderation_events
		SET state = $2, action_taken = $3, updated_at = NOW()
		WHERE id = $1 AND state = ANY($4)`

	allowed := []string{
		string(domain.StateNoMatch),
		string(domain.StateMatched),
		string(domain.StateReviewDecided),
	}
	ct, err := r.pool.Exec(ctx, query, id, domain.StateActionTaken, action, allowed)
	if err != nil {
		return &domain.PersistenceError{Op: "record_action", Err: err}
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// AppendAudit дописывает запись в аудит-след события.
// Намеренно не трогает updated_at: дубликаты доставки не должны
// выглядеть как изменение состояния.
func (r *EventRepo) AppendAudit(ctx context.Context, id string, entry map[string]interface{}) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit entry: %w", err)
	}

	query := `
		UPDATE moderation_events
		SET audit_trail = audit_trail || $2::jsonb
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, payload); err != nil {
		return &domain.PersistenceError{Op: "append_audit", Err: err}
	}
	return nil
}

// GetByID возвращает событие или domain.ErrEventNotFound
func (r *EventRepo) GetByID(ctx context.Context, id string) (*domain.ModerationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM moderation_events WHERE id = $1`

	ev, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, &domain.PersistenceError{Op: "get_by_id", Err: err}
	}
	return ev, nil
}

// LatestForPair — "текущее" событие пары: последний по created_at сабмит.
// Именно на него Reconciliation Handler накладывает входящие решения.
func (r *EventRepo) LatestForPair(ctx context.Context, contentID, submitterID string) (*domain.ModerationEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM moderation_events
		WHERE content_id = $1 AND submitter_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	ev, err := scanEvent(r.pool.QueryRow(ctx, query, contentID, submitterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, &domain.PersistenceError{Op: "latest_for_pair", Err: err}
	}
	return ev, nil
}

// ApplyDecision накладывает решение ревью на событие с данным ключом корреляции.
//
// Правила (весь разбор — под row-level lock, одной транзакцией):
//   - строки с таким review_task_id нет -> ErrEventNotFound;
//   - REVIEW_PENDING -> REVIEW_DECIDED, решение записано (applied);
//   - REVIEW_DECIDED/ACTION_TAKEN с тем же решением -> duplicate, записи нет;
//   - REVIEW_DECIDED с другим решением -> last-write-wins, вытесненное
//     решение дописывается в аудит-след (superseded);
//   - ACTION_TAKEN с другим решением -> действие уже исполнено, решение не
//     переписываем, конфликт фиксируем в аудите (late_conflict).
func (r *EventRepo) ApplyDecision(ctx context.Context, taskID string, decision domain.ReviewDecision, decidedAt time.Time) (*domain.DecisionOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "apply_decision_begin", Err: err}
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM moderation_events WHERE review_task_id = $1 FOR UPDATE`, taskID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, &domain.PersistenceError{Op: "apply_decision_select", Err: err}
	}

	status, err := classifyDecision(ev, decision)
	if err != nil {
		return nil, err
	}
	outcome := &domain.DecisionOutcome{Event: ev, Status: status}

	switch status {
	case domain.DecisionApplied:
		entry := auditEntry("decision", map[string]interface{}{
			"decision":   string(decision),
			"decided_at": decidedAt.Format(time.RFC3339),
		})
		_, err = tx.Exec(ctx, `
			UPDATE moderation_events
			SET state = $2, review_decision = $3, updated_at = NOW(), audit_trail = audit_trail || $4::jsonb
			WHERE id = $1`,
			ev.ID, domain.StateReviewDecided, string(decision), entry)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "apply_decision_update", Err: err}
		}
		ev.State = domain.StateReviewDecided
		ev.ReviewDecision = &decision

	case domain.DecisionDuplicate:
		// Повторная доставка: подтверждаем без мутаций, updated_at не трогаем

	case domain.DecisionSuperseded:
		// Конфликт решений: побеждает последняя запись, прежнее решение — в аудит
		prev := *ev.ReviewDecision
		entry := auditEntry("decision_superseded", map[string]interface{}{
			"superseded": string(prev),
			"decision":   string(decision),
			"decided_at": decidedAt.Format(time.RFC3339),
		})
		_, err = tx.Exec(ctx, `
			UPDATE moderation_events
			SET review_decision = $2, updated_at = NOW(), audit_trail = audit_trail || $3::jsonb
			WHERE id = $1`,
			ev.ID, string(decision), entry)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "apply_decision_supersede", Err: err}
		}
		ev.ReviewDecision = &decision
		outcome.Superseded = &prev

	case domain.DecisionLateConflict:
		// Действие уже необратимо исполнено: состояние монотонно, назад не откатываем
		entry := auditEntry("late_conflicting_decision", map[string]interface{}{
			"ignored_decision": string(decision),
			"decided_at":       decidedAt.Format(time.RFC3339),
		})
		_, err = tx.Exec(ctx, `
			UPDATE moderation_events SET audit_trail = audit_trail || $2::jsonb WHERE id = $1`,
			ev.ID, entry)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "apply_decision_late", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &domain.PersistenceError{Op: "apply_decision_commit", Err: err}
	}
	return outcome, nil
}

// classifyDecision разбирает, каким исходом станет входящее решение
// относительно текущего состояния события:
//   - REVIEW_PENDING — applied;
//   - то же решение уже записано — duplicate;
//   - другое решение до исполнения действия — superseded (last-write-wins);
//   - другое решение после ACTION_TAKEN — late_conflict, мутаций не будет.
func classifyDecision(ev *domain.ModerationEvent, decision domain.ReviewDecision) (domain.DecisionApplyStatus, error) {
	switch {
	case ev.State == domain.StateReviewPending:
		return domain.DecisionApplied, nil
	case ev.ReviewDecision != nil && *ev.ReviewDecision == decision:
		return domain.DecisionDuplicate, nil
	case ev.State == domain.StateReviewDecided:
		return domain.DecisionSuperseded, nil
	case ev.State == domain.StateActionTaken:
		return domain.DecisionLateConflict, nil
	default:
		// review_task_id есть, а состояние до REVIEW_PENDING — так не бывает
		return "", domain.ErrInvalidTransition
	}
}

func auditEntry(kind string, fields map[string]interface{}) []byte {
	entry := map[string]interface{}{
		"kind": kind,
		"at":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		entry[k] = v
	}
	payload, _ := json.Marshal([]interface{}{entry})
	return payload
}
