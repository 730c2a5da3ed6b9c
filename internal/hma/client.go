package hma

/*
Файл client.go — шлюз к движку хэширования/матчинга (HMA-подобный HTTP сервис).

Шлюз stateless: нормализует сабмит в запрос к движку и интерпретирует ответ
в типизированный набор кандидатов. Нетипизированные мапы наружу не выходят —
валидация и отбраковка происходят на этой границе.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/modbridge/internal/domain"
	"go.uber.org/zap"
)

// Алгоритм по умолчанию: PDQ, дистанционная семантика (меньше = более похоже)
const preferredAlgorithm = "pdq"

type Client struct {
	baseURL   string
	apiKey    string
	threshold float64 // порог, передаваемый движку при матчинге
	httpc     *http.Client
	logger    *zap.Logger
}

func NewClient(baseURL, apiKey string, threshold float64, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		threshold: threshold,
		httpc:     &http.Client{Timeout: timeout},
		logger:    logger.Named("hma-client"),
	}
}

// HashAndMatch прогоняет медиа через движок: перцептивный хэш, затем поиск
// ближайших соседей по банкам. Обе операции идемпотентны.
func (c *Client) HashAndMatch(ctx context.Context, media []byte) (*domain.MatchSet, json.RawMessage, error) {
	hashes, hashRaw, err := c.hash(ctx, media)
	if err != nil {
		return nil, hashRaw, err
	}

	algo, hashValue := pickHash(hashes)
	if hashValue == "" {
		return nil, hashRaw, &domain.EngineError{Code: 0, Detail: "engine returned no hashes"}
	}

	candidates, matchRaw, err := c.match(ctx, hashValue, algo)
	if err != nil {
		return nil, matchRaw, err
	}

	// Склеиваем оба сырых ответа для аудита
	envelope, _ := json.Marshal(map[string]json.RawMessage{
		"hashes":  hashRaw,
		"matches": matchRaw,
	})

	return &domain.MatchSet{Candidates: candidates}, envelope, nil
}

// hash — POST /hashing/hash, multipart с файлом. Ответ: алгоритм -> хэш.
func (c *Client) hash(ctx context.Context, media []byte) (map[string]string, json.RawMessage, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "content.jpg")
	if err != nil {
		return nil, nil, fmt.Errorf("hma: build multipart: %w", err)
	}
	if _, err := part.Write(media); err != nil {
		return nil, nil, fmt.Errorf("hma: write multipart: %w", err)
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hashing/hash", &body)
	if err != nil {
		return nil, nil, fmt.Errorf("hma: build hash request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	raw, err := c.do(req)
	if err != nil {
		return nil, raw, err
	}

	var hashes map[string]string
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return nil, raw, &domain.EngineError{Code: 0, Detail: "unparseable hash response"}
	}
	return hashes, raw, nil
}

type matchWireEntry struct {
	BankName    string            `json:"bank_name"`
	Distance    float64           `json:"distance"`
	MatchedHash string            `json:"hash"`
	Metadata    map[string]string `json:"metadata"`
}

// match — POST /matching/match. Ответ: bank_id -> список кандидатов.
func (c *Client) match(ctx context.Context, hashValue, hashType string) ([]domain.MatchCandidate, json.RawMessage, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"hash":      hashValue,
		"type":      hashType,
		"threshold": c.threshold,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/matching/match", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("hma: build match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	raw, err := c.do(req)
	if err != nil {
		return nil, raw, err
	}

	var wire map[string][]matchWireEntry
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, raw, &domain.EngineError{Code: 0, Detail: "unparseable match response"}
	}

	candidates := make([]domain.MatchCandidate, 0)
	for bankID, entries := range wire {
		for _, e := range entries {
			bankName := e.BankName
			if bankName == "" {
				bankName = bankID
			}
			candidates = append(candidates, domain.MatchCandidate{
				BankID:      bankID,
				BankName:    bankName,
				MatchedHash: e.MatchedHash,
				Distance:    e.Distance,
				Metadata:    e.Metadata,
			})
		}
	}
	return candidates, raw, nil
}

// Status — GET /status, для компонентной диагностики моста
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("hma: build status request: %w", err)
	}
	c.authorize(req)
	return c.do(req)
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do выполняет запрос и маппит отказы в таксономию конвейера:
// сетевой сбой/таймаут/5xx -> engine_unavailable (вызывающий может деградировать),
// оформленный 4xx -> engine_error, 400 на хэшировании -> invalid_media.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("engine request failed", zap.String("url", req.URL.Path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrEngineUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode >= 500:
		return raw, fmt.Errorf("%w: engine returned %d", domain.ErrEngineUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(req.URL.Path, "/hashing/"):
		return raw, domain.ErrInvalidMedia
	default:
		return raw, &domain.EngineError{Code: resp.StatusCode, Detail: truncate(string(raw), 512)}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func pickHash(hashes map[string]string) (string, string) {
	if v, ok := hashes[preferredAlgorithm]; ok && v != "" {
		return preferredAlgorithm, v
	}
	// Фолбэк: детерминированно берем лексикографически первый алгоритм
	var bestAlgo, bestVal string
	for algo, v := range hashes {
		if v == "" {
			continue
		}
		if bestAlgo == "" || algo < bestAlgo {
			bestAlgo, bestVal = algo, v
		}
	}
	return bestAlgo, bestVal
}
