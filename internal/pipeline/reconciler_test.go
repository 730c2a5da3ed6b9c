package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/modbridge/internal/audit"
	"github.com/xela07ax/modbridge/internal/domain"
)

type fakeDecisionStore struct {
	event   *domain.ModerationEvent
	outcome *domain.DecisionOutcome
	history []*domain.ModerationEvent

	actions  []string
	audits   int
	upgraded *domain.MatchSummary

	actionFails int // первые actionFails вызовов RecordAction падают
	actionCalls int
}

func (s *fakeDecisionStore) LatestForPair(_ context.Context, contentID, submitterID string) (*domain.ModerationEvent, error) {
	if s.event == nil {
		return nil, domain.ErrEventNotFound
	}
	return s.event, nil
}

func (s *fakeDecisionStore) HistoryForContent(_ context.Context, contentID string) ([]*domain.ModerationEvent, error) {
	return s.history, nil
}

func (s *fakeDecisionStore) ApplyDecision(_ context.Context, taskID string, decision domain.ReviewDecision, _ time.Time) (*domain.DecisionOutcome, error) {
	return s.outcome, nil
}

func (s *fakeDecisionStore) UpgradeMatchSummary(_ context.Context, id string, summary *domain.MatchSummary) error {
	s.upgraded = summary
	return nil
}

func (s *fakeDecisionStore) RecordAction(_ context.Context, id, action string) error {
	s.actionCalls++
	if s.actionCalls <= s.actionFails {
		return &domain.PersistenceError{Op: "record_action", Err: errors.New("conn reset")}
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *fakeDecisionStore) AppendAudit(_ context.Context, id string, _ map[string]interface{}) error {
	s.audits++
	return nil
}

type fakeHost struct {
	calls int
	fails int // первые fails вызовов падают
}

func (h *fakeHost) Takedown(_ context.Context, contentID, reason string, _ *domain.MatchSummary) error {
	h.calls++
	if h.calls <= h.fails {
		return errors.New("host 503")
	}
	return nil
}

type fakeTracker struct{ blocked []string }

func (t *fakeTracker) RecordBlock(_ context.Context, submitterID string) {
	t.blocked = append(t.blocked, submitterID)
}

func pendingEvent(taskID string) *domain.ModerationEvent {
	return &domain.ModerationEvent{
		ID:           "ev-1",
		ContentID:    "c-1",
		SubmitterID:  "did:plc:u",
		State:        domain.StateReviewPending,
		ReviewTaskID: &taskID,
	}
}

func newTestReconciler(t *testing.T, store *fakeDecisionStore, h *fakeHost, tracker *fakeTracker) *Reconciler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	trail := audit.NewTrail(nullTrailStorage{}, logger, 100, 0)
	// Redis недоступен в тестах: трансляция решений деградирует в warn
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewReconciler(store, h, tracker, rdb, trail, NewMetrics(nil), logger)
}

func blockCallback() *domain.ReviewCallback {
	return &domain.ReviewCallback{
		TaskID:    "tq-1",
		Context:   domain.ClientContext{EventID: "ev-1", ContentID: "c-1", SubmitterID: "did:plc:u"},
		Decision:  domain.DecisionBlock,
		DecidedAt: time.Now(),
	}
}

func TestApplyDecisionBlockTriggersTakedown(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionApplied, Event: ev},
	}
	h := &fakeHost{}
	tracker := &fakeTracker{}
	rc := newTestReconciler(t, store, h, tracker)

	outcome, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApplied, outcome.Status)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, []string{"takedown"}, store.actions)
	assert.Equal(t, []string{"did:plc:u"}, tracker.blocked)
}

func TestApplyDecisionTakedownRetriesThenRecordsFailure(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionApplied, Event: ev},
	}
	h := &fakeHost{fails: 10} // падает всегда
	rc := newTestReconciler(t, store, h, &fakeTracker{})

	_, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	assert.Equal(t, 3, h.calls) // все три попытки
	assert.Equal(t, []string{"logged, takedown failed"}, store.actions)
	assert.Equal(t, 1, store.audits)
}

func TestApplyDecisionApproveNoTakedown(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionApplied, Event: ev},
	}
	h := &fakeHost{}
	tracker := &fakeTracker{}
	rc := newTestReconciler(t, store, h, tracker)

	cb := blockCallback()
	cb.Decision = domain.DecisionApprove

	_, err := rc.ApplyReviewDecision(context.Background(), cb)
	require.NoError(t, err)
	assert.Zero(t, h.calls)
	assert.Equal(t, []string{"approved, no action"}, store.actions)
	assert.Empty(t, tracker.blocked)
}

func TestApplyDecisionDuplicateHasNoSideEffects(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionDuplicate, Event: ev},
	}
	h := &fakeHost{}
	rc := newTestReconciler(t, store, h, &fakeTracker{})

	outcome, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionDuplicate, outcome.Status)
	assert.Zero(t, h.calls)
	assert.Empty(t, store.actions)
}

func TestApplyDecisionUnknownPairIsNotFound(t *testing.T) {
	rc := newTestReconciler(t, &fakeDecisionStore{}, &fakeHost{}, &fakeTracker{})

	// Событий по этой паре нет вовсе: мост про такой контент не знает
	_, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.ErrorIs(t, err, domain.ErrEventNotFound)
	assert.NotErrorIs(t, err, domain.ErrCorrelationMismatch)
}

func TestApplyDecisionForeignTaskIsCorrelationMismatch(t *testing.T) {
	// Событие есть, но задача чужая
	ev := pendingEvent("other-task")
	store := &fakeDecisionStore{event: ev}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	_, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.ErrorIs(t, err, domain.ErrCorrelationMismatch)
	assert.Empty(t, store.actions)
}

func TestApplyDecisionSupersededStillActs(t *testing.T) {
	// Конфликт решений до исполнения действия: last-write-wins,
	// новое решение становится действующим и исполняется
	ev := pendingEvent("tq-1")
	ev.State = domain.StateReviewDecided
	prev := domain.DecisionApprove
	store := &fakeDecisionStore{
		event: ev,
		outcome: &domain.DecisionOutcome{
			Status:     domain.DecisionSuperseded,
			Event:      ev,
			Superseded: &prev,
		},
	}
	h := &fakeHost{}
	tracker := &fakeTracker{}
	rc := newTestReconciler(t, store, h, tracker)

	outcome, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSuperseded, outcome.Status)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, []string{"takedown"}, store.actions)
	assert.Equal(t, []string{"did:plc:u"}, tracker.blocked)
}

func TestApplyDecisionLateConflictHasNoSideEffects(t *testing.T) {
	// Действие уже исполнено: конфликтующее решение только подтверждаем
	ev := pendingEvent("tq-1")
	ev.State = domain.StateActionTaken
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionLateConflict, Event: ev},
	}
	h := &fakeHost{}
	tracker := &fakeTracker{}
	rc := newTestReconciler(t, store, h, tracker)

	outcome, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionLateConflict, outcome.Status)
	assert.Zero(t, h.calls)
	assert.Empty(t, store.actions)
	assert.Empty(t, tracker.blocked)
}

func TestApplyDecisionRetriesActionWrite(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:       ev,
		outcome:     &domain.DecisionOutcome{Status: domain.DecisionApplied, Event: ev},
		actionFails: 1,
	}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	cb := blockCallback()
	cb.Decision = domain.DecisionApprove

	_, err := rc.ApplyReviewDecision(context.Background(), cb)
	require.NoError(t, err)
	// Однократный сбой записи повторен, действие зафиксировано
	assert.Equal(t, 2, store.actionCalls)
	assert.Equal(t, []string{"approved, no action"}, store.actions)
}

func TestApplyDecisionActionAudited(t *testing.T) {
	ev := pendingEvent("tq-1")
	store := &fakeDecisionStore{
		event:   ev,
		outcome: &domain.DecisionOutcome{Status: domain.DecisionApplied, Event: ev},
	}

	rec := &recordTrailStorage{}
	logger := zaptest.NewLogger(t)
	trail := audit.NewTrail(rec, logger, 100, 0)
	trail.Start()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rc := NewReconciler(store, &fakeHost{}, &fakeTracker{}, rdb, trail, NewMetrics(nil), logger)

	_, err := rc.ApplyReviewDecision(context.Background(), blockCallback())
	require.NoError(t, err)
	trail.Stop()

	assert.Contains(t, rec.snapshot(), audit.StageAction)
	assert.Contains(t, rec.snapshot(), audit.StageDecision)
}

func TestEngineCallbackUnrecognizedAcknowledged(t *testing.T) {
	store := &fakeDecisionStore{}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	err := rc.HandleEngineCallback(context.Background(), &domain.EngineCallback{
		Kind: domain.KindUnrecognized,
		Raw:  []byte(`{"event_type":"??"}`),
	})
	require.NoError(t, err)
	assert.Zero(t, store.audits)
}

func TestEngineCallbackMatchFoundUpgradesSummary(t *testing.T) {
	ev := pendingEvent("tq-1")
	ev.State = domain.StateMatched
	ev.Match = &domain.MatchSummary{BankID: "bank-a", Distance: 20}
	store := &fakeDecisionStore{history: []*domain.ModerationEvent{ev}}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	err := rc.HandleEngineCallback(context.Background(), &domain.EngineCallback{
		Kind:      domain.KindMatchFound,
		ContentID: "c-1",
		Match:     &domain.MatchCandidate{BankID: "bank-b", MatchedHash: "aa", Distance: 5},
		Raw:       []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.audits)
	require.NotNil(t, store.upgraded)
	assert.Equal(t, "bank-b", store.upgraded.BankID)
}

func TestEngineCallbackMatchFoundWeakerMatchIgnored(t *testing.T) {
	ev := pendingEvent("tq-1")
	ev.State = domain.StateMatched
	ev.Match = &domain.MatchSummary{BankID: "bank-a", Distance: 5}
	store := &fakeDecisionStore{history: []*domain.ModerationEvent{ev}}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	err := rc.HandleEngineCallback(context.Background(), &domain.EngineCallback{
		Kind:      domain.KindMatchFound,
		ContentID: "c-1",
		Match:     &domain.MatchCandidate{BankID: "bank-b", Distance: 25},
		Raw:       []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Nil(t, store.upgraded) // дальше сохраненного — не трогаем
}

func TestEngineCallbackUnknownContent(t *testing.T) {
	store := &fakeDecisionStore{}
	rc := newTestReconciler(t, store, &fakeHost{}, &fakeTracker{})

	err := rc.HandleEngineCallback(context.Background(), &domain.EngineCallback{
		Kind:      domain.KindMatchFound,
		ContentID: "never-seen",
		Raw:       []byte(`{}`),
	})
	require.NoError(t, err) // события не создаем, это не ошибка
	assert.Zero(t, store.audits)
}
