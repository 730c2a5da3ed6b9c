package hma

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/modbridge/internal/domain"
)

type countingCaller struct {
	calls int
	err   error
	set   *domain.MatchSet
}

func (c *countingCaller) HashAndMatch(_ context.Context, _ []byte) (*domain.MatchSet, json.RawMessage, error) {
	c.calls++
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.set, json.RawMessage(`{}`), nil
}

func fastSettings() ReliabilitySettings {
	return ReliabilitySettings{
		Attempts:    3,
		CallTimeout: time.Second,
		RateLimit:   1000,
		Burst:       1000,
	}
}

func TestReliableRetriesUnavailable(t *testing.T) {
	caller := &countingCaller{err: domain.ErrEngineUnavailable}
	w := NewReliable(caller, fastSettings())

	_, _, err := w.HashAndMatch(context.Background(), []byte("x"))
	require.ErrorIs(t, err, domain.ErrEngineUnavailable)
	assert.Equal(t, 3, caller.calls)
}

func TestReliableDoesNotRetryFormattedRefusal(t *testing.T) {
	// Оформленный отказ движка повторная попытка не починит
	caller := &countingCaller{err: &domain.EngineError{Code: 403}}
	w := NewReliable(caller, fastSettings())

	_, _, err := w.HashAndMatch(context.Background(), []byte("x"))
	var engineErr *domain.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 1, caller.calls)
}

func TestReliablePassesThroughSuccess(t *testing.T) {
	caller := &countingCaller{set: &domain.MatchSet{
		Candidates: []domain.MatchCandidate{{BankID: "b", Distance: 1}},
	}}
	w := NewReliable(caller, fastSettings())

	set, raw, err := w.HashAndMatch(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Len(t, set.Candidates, 1)
	assert.NotNil(t, raw)
}

func TestReliableBreakerStateHook(t *testing.T) {
	caller := &countingCaller{err: domain.ErrEngineUnavailable}

	var transitions []gobreaker.State
	s := fastSettings()
	s.OnStateChange = func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}
	w := NewReliable(caller, s)

	for i := 0; i < 7; i++ {
		w.HashAndMatch(context.Background(), []byte("x"))
	}

	require.NotEmpty(t, transitions)
	assert.Equal(t, gobreaker.StateOpen, transitions[len(transitions)-1])
}

func TestReliableBreakerOpens(t *testing.T) {
	caller := &countingCaller{err: domain.ErrEngineUnavailable}
	w := NewReliable(caller, fastSettings())

	// Больше 5 неудачных вызовов подряд открывают предохранитель
	for i := 0; i < 7; i++ {
		w.HashAndMatch(context.Background(), []byte("x"))
	}

	before := caller.calls
	_, _, err := w.HashAndMatch(context.Background(), []byte("x"))
	require.ErrorIs(t, err, domain.ErrEngineUnavailable)
	assert.Equal(t, before, caller.calls) // трафик до движка не дошел
}
