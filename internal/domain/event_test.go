package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		name string
		from EventState
		to   EventState
		ok   bool
	}{
		{"received to hashed", StateReceived, StateHashed, true},
		{"received to failed", StateReceived, StateFailed, true},
		{"degraded shortcut", StateReceived, StateNoMatch, true},
		{"hashed to matched", StateHashed, StateMatched, true},
		{"hashed to no_match", StateHashed, StateNoMatch, true},
		{"matched to review", StateMatched, StateReviewPending, true},
		{"matched closed directly", StateMatched, StateActionTaken, true},
		{"no_match closes", StateNoMatch, StateActionTaken, true},
		{"pending to decided", StateReviewPending, StateReviewDecided, true},
		{"decided to action", StateReviewDecided, StateActionTaken, true},

		{"no regress to pending", StateReviewDecided, StateReviewPending, false},
		{"no regress to received", StateHashed, StateReceived, false},
		{"received cannot match", StateReceived, StateMatched, false},
		{"terminal action", StateActionTaken, StateReviewPending, false},
		{"terminal failed", StateFailed, StateHashed, false},
		{"no_match cannot review", StateNoMatch, StateReviewPending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateActionTaken.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateReviewPending.Terminal())
	assert.False(t, StateReceived.Terminal())
}

func TestCanDecide(t *testing.T) {
	taskID := "task-1"

	ev := &ModerationEvent{State: StateReviewPending}
	require.ErrorIs(t, ev.CanDecide("task-1"), ErrCorrelationMismatch)

	ev.ReviewTaskID = &taskID
	require.NoError(t, ev.CanDecide("task-1"))
	require.ErrorIs(t, ev.CanDecide("task-2"), ErrCorrelationMismatch)
}
