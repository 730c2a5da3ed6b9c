package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/domain"
)

// maxUploadBytes — потолок размера загружаемого файла (20 МБ)
const maxUploadBytes = 20 << 20

// SubmissionPipeline Описываем, что нам нужно от конвейера
type SubmissionPipeline interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.SubmissionResult, error)
}

type SubmissionHandler struct {
	pipeline SubmissionPipeline
	logger   *zap.Logger
}

func NewSubmissionHandler(p SubmissionPipeline, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{pipeline: p, logger: logger.Named("submission-api")}
}

// jsonSubmission — JSON-вариант сабмита: медиа по URL вместо байтов
type jsonSubmission struct {
	ContentID   string            `json:"content_id"`
	SubmitterID string            `json:"submitter_id"`
	MediaURL    string            `json:"media_url"`
	Metadata    map[string]string `json:"metadata"`
}

// Create принимает сабмит контента: multipart (файл) или JSON (URL).
// Ответ всегда в стабильной форме SubmissionResult, ошибки внешних
// сервисов не пробрасываются как HTTP-статусы.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sub, err := h.parse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrorType(err), err.Error())
		return
	}

	result, err := h.pipeline.Submit(r.Context(), *sub)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, domain.ErrorType(err), err.Error())
			return
		}
		h.logger.Error("submission pipeline failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, domain.ErrorType(err), "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(result))
	json.NewEncoder(w).Encode(result)
}

func (h *SubmissionHandler) parse(r *http.Request) (*domain.Submission, error) {
	ct := r.Header.Get("Content-Type")

	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, domain.ErrInvalidInput
		}
		file, _, err := r.FormFile("media")
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return nil, domain.ErrInvalidInput
		}

		return &domain.Submission{
			ContentID:   r.FormValue("content_id"),
			SubmitterID: r.FormValue("submitter_id"),
			Media:       domain.MediaObject{Bytes: data},
		}, nil
	}

	var req jsonSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, domain.ErrInvalidInput
	}
	return &domain.Submission{
		ContentID:   req.ContentID,
		SubmitterID: req.SubmitterID,
		Media:       domain.MediaObject{URL: req.MediaURL},
		Metadata:    req.Metadata,
	}, nil
}

// statusFor: деградация — это успешный ответ; отказ самого моста — 5xx
func statusFor(res *domain.SubmissionResult) int {
	if res.Error == nil || res.Success {
		return http.StatusOK
	}
	switch res.Error.Type {
	case "invalid_media":
		return http.StatusUnprocessableEntity
	case "invalid_input":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, errType, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   domain.APIError{Type: errType, Detail: detail},
	})
}
