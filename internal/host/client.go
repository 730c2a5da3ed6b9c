package host

/*
Файл client.go — клиент модерационных действий контент-хоста
(федеративная платформа, откуда приходят сабмиты).

Мост не принимает решений за хост: он транслирует takedown после решения
BLOCK и фиксирует исход в событии независимо от успеха.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

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
		logger:  logger.Named("host-client"),
	}
}

// Takedown — запрос на снятие контента у хоста
func (c *Client) Takedown(ctx context.Context, contentID, reason string, match *domain.MatchSummary) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"content_id": contentID,
		"reason":     reason,
		"match_info": match,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/moderation/takedown", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("host: build takedown request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: host returned %d", domain.ErrEngineUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &domain.EngineError{Code: resp.StatusCode, Detail: string(raw)}
	}

	c.logger.Info("takedown delivered", zap.String("content_id", contentID))
	return nil
}

// Status — GET /status хоста для компонентной диагностики
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("host: build status request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrEngineUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &domain.EngineError{Code: resp.StatusCode, Detail: string(raw)}
	}
	return raw, nil
}
