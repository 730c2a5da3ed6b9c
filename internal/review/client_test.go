package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/modbridge/internal/domain"
)

func escalation() domain.Escalation {
	return domain.Escalation{
		EventID:     "ev-1",
		ContentID:   "c-1",
		SubmitterID: "did:plc:u",
		Match:       &domain.MatchSummary{BankID: "bank-a", Distance: 7},
		Thumbnail:   []byte{0xff, 0xd8},
		Reason:      "match",
	}
}

func TestCreateTaskEmbedsClientContext(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tasks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"task_id": "tq-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", 0, zaptest.NewLogger(t))
	taskID, err := c.CreateTask(context.Background(), escalation())
	require.NoError(t, err)
	assert.Equal(t, "tq-42", taskID)

	// client_context — JSON-строка: очередь вернет ее как есть в колбэке
	cctxStr, ok := got["client_context"].(string)
	require.True(t, ok)

	var cctx domain.ClientContext
	require.NoError(t, json.Unmarshal([]byte(cctxStr), &cctx))
	assert.Equal(t, "ev-1", cctx.EventID)
	assert.Equal(t, "c-1", cctx.ContentID)
	assert.Equal(t, "did:plc:u", cctx.SubmitterID)

	assert.Equal(t, "match", got["reason"])
	assert.NotEmpty(t, got["thumbnail_b64"])
}

func TestCreateTaskRetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"task_id": "tq-2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, zaptest.NewLogger(t))
	taskID, err := c.CreateTask(context.Background(), escalation())
	require.NoError(t, err)
	assert.Equal(t, "tq-2", taskID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateTaskRetryBudgetIsOne(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, zaptest.NewLogger(t))
	_, err := c.CreateTask(context.Background(), escalation())
	require.ErrorIs(t, err, domain.ErrEngineUnavailable)
	// Исходная попытка + ровно один повтор: дубликаты в очереди хуже потери
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateTaskDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, zaptest.NewLogger(t))
	_, err := c.CreateTask(context.Background(), escalation())

	var engineErr *domain.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, int32(1), calls.Load())
}
