package review

/*
Файл client.go — шлюз эскалации в очередь ревью.

В задачу зашивается client_context (JSON-строка с event_id/content_id/
submitter_id): этого достаточно, чтобы скоррелировать асинхронное решение
модератора с событием без отдельной таблицы соответствий.
*/

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/modbridge/internal/domain"
	"go.uber.org/zap"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.Named("review-client"),
	}
}

type taskWire struct {
	ContentID     string                `json:"content_id"`
	SubmitterID   string                `json:"submitter_id"`
	Match         *domain.MatchSummary  `json:"match,omitempty"`
	ThumbnailB64  string                `json:"thumbnail_b64,omitempty"`
	Reason        string                `json:"reason"`
	ClientContext string                `json:"client_context"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
}

// CreateTask создает задачу ревью и возвращает ключ корреляции.
// Создание задачи не идемпотентно, поэтому повторяем не более одного раза —
// лучше потерять эскалацию (она зафиксируется в action_taken), чем
// наплодить дубликаты в очереди модераторов.
func (c *Client) CreateTask(ctx context.Context, esc domain.Escalation) (string, error) {
	cctx, err := json.Marshal(domain.ClientContext{
		EventID:     esc.EventID,
		ContentID:   esc.ContentID,
		SubmitterID: esc.SubmitterID,
	})
	if err != nil {
		return "", fmt.Errorf("review: marshal client context: %w", err)
	}

	payload, _ := json.Marshal(taskWire{
		ContentID:     esc.ContentID,
		SubmitterID:   esc.SubmitterID,
		Match:         esc.Match,
		ThumbnailB64:  base64.StdEncoding.EncodeToString(esc.Thumbnail),
		Reason:        esc.Reason,
		ClientContext: string(cctx),
	})

	var taskID string

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(2), // исходная попытка + максимум один повтор
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrEngineUnavailable)
		}),
	)

	err = r.Do(func() error {
		id, callErr := c.submit(ctx, payload)
		if callErr == nil {
			taskID = id
		}
		return callErr
	})
	if err != nil {
		return "", err
	}
	return taskID, nil
}

func (c *Client) submit(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("review: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("review queue request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrEngineUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: review queue returned %d", domain.ErrEngineUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.EngineError{Code: resp.StatusCode, Detail: string(raw)}
	}

	var tr taskResponse
	if err := json.Unmarshal(raw, &tr); err != nil || tr.TaskID == "" {
		return "", &domain.EngineError{Code: resp.StatusCode, Detail: "review queue returned no task_id"}
	}
	return tr.TaskID, nil
}
