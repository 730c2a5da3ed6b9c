package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDelister struct {
	removed []string
	err     error
}

func (f *fakeDelister) Remove(_ context.Context, submitterID string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, submitterID)
	return nil
}

func watchlistRouter(h *WatchlistHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Delete("/v1/watchlist/{submitterID}", h.Delist)
	return r
}

func TestWatchlistDelist(t *testing.T) {
	f := &fakeDelister{}
	r := watchlistRouter(NewWatchlistHandler(f, zaptest.NewLogger(t)))

	req := httptest.NewRequest(http.MethodDelete, "/v1/watchlist/did:plc:abc", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"did:plc:abc"}, f.removed)

	var res map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "removed", res["status"])
	assert.Equal(t, "did:plc:abc", res["submitter_id"])
}

func TestWatchlistDelistFailure(t *testing.T) {
	f := &fakeDelister{err: errors.New("redis down")}
	r := watchlistRouter(NewWatchlistHandler(f, zaptest.NewLogger(t)))

	req := httptest.NewRequest(http.MethodDelete, "/v1/watchlist/did:plc:abc", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
