package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/modbridge/internal/domain"
)

type fakePipeline struct {
	got    *domain.Submission
	result *domain.SubmissionResult
	err    error
}

func (p *fakePipeline) Submit(_ context.Context, sub domain.Submission) (*domain.SubmissionResult, error) {
	p.got = &sub
	return p.result, p.err
}

func okResult() *domain.SubmissionResult {
	return &domain.SubmissionResult{
		Success:   true,
		EventID:   "ev-1",
		ContentID: "c-1",
		State:     domain.StateActionTaken,
	}
}

func TestCreateJSONSubmission(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	body := `{"content_id": "c-1", "submitter_id": "did:plc:u", "media_url": "https://cdn.example/img.jpg"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, p.got)
	assert.Equal(t, "c-1", p.got.ContentID)
	assert.Equal(t, "https://cdn.example/img.jpg", p.got.Media.URL)

	var res domain.SubmissionResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "ev-1", res.EventID)
}

func TestCreateMultipartSubmission(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content_id", "c-2"))
	require.NoError(t, mw.WriteField("submitter_id", "did:plc:u"))
	part, err := mw.CreateFormFile("media", "img.jpg")
	require.NoError(t, err)
	part.Write([]byte{0xff, 0xd8, 0xff})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, p.got)
	assert.Equal(t, "c-2", p.got.ContentID)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, p.got.Media.Bytes)
}

func TestCreateRejectsBadJSON(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(`{{{`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, p.got)
}

func TestCreateInvalidInputFromPipeline(t *testing.T) {
	p := &fakePipeline{err: domain.ErrInvalidInput}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader(`{"content_id": ""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInvalidMediaIs422(t *testing.T) {
	p := &fakePipeline{result: &domain.SubmissionResult{
		EventID:   "ev-1",
		ContentID: "c-1",
		State:     domain.StateFailed,
		Error:     &domain.APIError{Type: "invalid_media"},
	}}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions",
		strings.NewReader(`{"content_id": "c-1", "submitter_id": "s", "media_url": "u"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateDegradedIsStill200(t *testing.T) {
	// Деградация — это успешный ответ со стабильной формой, а не 5xx
	p := &fakePipeline{result: &domain.SubmissionResult{
		Success:   true,
		EventID:   "ev-1",
		ContentID: "c-1",
		State:     domain.StateActionTaken,
		Degraded:  true,
		Error:     &domain.APIError{Type: "engine_unavailable"},
	}}
	h := NewSubmissionHandler(p, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions",
		strings.NewReader(`{"content_id": "c-1", "submitter_id": "s", "media_url": "u"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.Create(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.SubmissionResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Degraded)
	assert.Equal(t, "engine_unavailable", res.Error.Type)
}
