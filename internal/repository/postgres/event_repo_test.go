package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/modbridge/internal/domain"
)

func decidedEvent(state domain.EventState, decision *domain.ReviewDecision) *domain.ModerationEvent {
	taskID := "tq-1"
	return &domain.ModerationEvent{
		ID:             "ev-1",
		ContentID:      "c-1",
		SubmitterID:    "did:plc:u",
		State:          state,
		ReviewTaskID:   &taskID,
		ReviewDecision: decision,
	}
}

func TestClassifyDecision(t *testing.T) {
	approve := domain.DecisionApprove
	block := domain.DecisionBlock

	cases := []struct {
		name     string
		ev       *domain.ModerationEvent
		decision domain.ReviewDecision
		want     domain.DecisionApplyStatus
	}{
		{
			name:     "first decision on pending review",
			ev:       decidedEvent(domain.StateReviewPending, nil),
			decision: block,
			want:     domain.DecisionApplied,
		},
		{
			name:     "redelivery of the same decision",
			ev:       decidedEvent(domain.StateReviewDecided, &block),
			decision: block,
			want:     domain.DecisionDuplicate,
		},
		{
			name:     "redelivery after action is still duplicate",
			ev:       decidedEvent(domain.StateActionTaken, &block),
			decision: block,
			want:     domain.DecisionDuplicate,
		},
		{
			name:     "conflicting decision before action wins",
			ev:       decidedEvent(domain.StateReviewDecided, &approve),
			decision: block,
			want:     domain.DecisionSuperseded,
		},
		{
			name:     "conflicting decision after action is late",
			ev:       decidedEvent(domain.StateActionTaken, &approve),
			decision: block,
			want:     domain.DecisionLateConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := classifyDecision(tc.ev, tc.decision)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyDecisionRejectsPrematureState(t *testing.T) {
	// review_task_id есть, а состояние до REVIEW_PENDING — так не бывает
	ev := decidedEvent(domain.StateHashed, nil)
	_, err := classifyDecision(ev, domain.DecisionBlock)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
