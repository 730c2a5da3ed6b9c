package hma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/modbridge/internal/domain"
	"golang.org/x/time/rate"
)

type engineCaller interface {
	HashAndMatch(ctx context.Context, media []byte) (*domain.MatchSet, json.RawMessage, error)
}

// ReliabilitySettings — параметры Circuit Breaker и ретраев
type ReliabilitySettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration // время до полуоткрытия CB
	Attempts    uint
	CallTimeout time.Duration // бюджет одной попытки
	RateLimit   rate.Limit
	Burst       int

	// Хук на смену состояния предохранителя (метрики, алерты)
	OnStateChange func(name string, from, to gobreaker.State)
}

func (s *ReliabilitySettings) defaults() {
	if s.MaxRequests == 0 {
		s.MaxRequests = 3
	}
	if s.Interval == 0 {
		s.Interval = 5 * time.Second
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Attempts == 0 {
		s.Attempts = 3
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.RateLimit == 0 {
		s.RateLimit = rate.Limit(100)
	}
	if s.Burst == 0 {
		s.Burst = 20
	}
}

// Reliable оборачивает шлюз движка в Rate Limiter + Circuit Breaker + Retries.
// Ретраим только engine_unavailable: хэширование и матчинг идемпотентны,
// а оформленный отказ движка повторная попытка не починит.
type Reliable struct {
	next     engineCaller
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	callTmo  time.Duration
}

type matchResult struct {
	set *domain.MatchSet
	raw json.RawMessage
}

func NewReliable(next engineCaller, settings ReliabilitySettings) *Reliable {
	settings.defaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hma-engine",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: settings.OnStateChange,
	})

	return &Reliable{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(settings.RateLimit, settings.Burst),
		attempts: settings.Attempts,
		callTmo:  settings.CallTimeout,
	}
}

func (w *Reliable) HashAndMatch(ctx context.Context, media []byte) (*domain.MatchSet, json.RawMessage, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var final matchResult

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, domain.ErrEngineUnavailable)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTmo)
			defer cancel()

			set, raw, callErr := w.next.HashAndMatch(tCtx, media)
			if callErr == nil {
				final = matchResult{set: set, raw: raw}
			}
			return callErr
		})

		return final, retryErr
	})

	if err != nil {
		// Открытый предохранитель для вызывающего неотличим от недоступного движка
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("%w: circuit breaker open", domain.ErrEngineUnavailable)
		}
		return nil, nil, err
	}

	res := cbResult.(matchResult)
	return res.set, res.raw, nil
}
