package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/modbridge/internal/infra"
)

// WatchlistSource отдает авторов, накопивших достаточно решений BLOCK,
// для прогрева кэша при старте.
type WatchlistSource interface {
	BlockedSubmitters(ctx context.Context, minBlocks int) ([]string, error)
}

// Watchlist отслеживает авторов с историей заблокированного контента.
// Контент таких авторов эскалируется на ревью даже без совпадения по банкам.
// L1 — локальная мапа, L2 — Redis set, синхронизация через Pub/Sub.
type Watchlist struct {
	mu        sync.RWMutex
	listed    map[string]struct{}
	rdb       *redis.Client
	source    WatchlistSource
	logger    *zap.Logger
	threshold int // сколько BLOCK переводит автора в список
}

func NewWatchlist(rdb *redis.Client, source WatchlistSource, threshold int, logger *zap.Logger) *Watchlist {
	if threshold <= 0 {
		threshold = 3
	}
	return &Watchlist{
		listed:    make(map[string]struct{}),
		rdb:       rdb,
		source:    source,
		logger:    logger.With(zap.String("mod", "watchlist")),
		threshold: threshold,
	}
}

// Init прогревает L1 и L2 из БД при старте моста
func (w *Watchlist) Init(ctx context.Context) error {
	ids, err := w.source.BlockedSubmitters(ctx, w.threshold)
	if err != nil {
		return fmt.Errorf("watchlist: load blocked submitters: %w", err)
	}

	// Redis мог пережить рестарт моста — объединяем с тем, что уже в set
	cached, err := w.rdb.SMembers(ctx, infra.RedisKeyWatchlistSubmitters).Result()
	if err == nil {
		ids = append(ids, cached...)
	}

	return WarmupState(ctx, w.rdb, w.logger, ids,
		infra.RedisKeyWatchlistSubmitters, infra.RedisKeyLockWatchlist,
		func(loaded []string) {
			w.mu.Lock()
			for _, id := range loaded {
				w.listed[id] = struct{}{}
			}
			w.mu.Unlock()
		})
}

// StartListener подписывается на изменения списка в реальном времени
func (w *Watchlist) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, w.rdb, w.logger, infra.RedisChanWatchlist,
		func() error { return w.Init(ctx) },
		func(id string, on bool) {
			w.mu.Lock()
			if on {
				w.listed[id] = struct{}{}
			} else {
				delete(w.listed, id)
			}
			w.mu.Unlock()
		})
}

// IsListed — быстрая проверка по L1 на горячем пути приема заявки
func (w *Watchlist) IsListed(submitterID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.listed[submitterID]
	return ok
}

// RecordBlock инкрементирует счетчик BLOCK автора; при достижении порога
// добавляет его в список и рассылает сигнал остальным инстансам.
func (w *Watchlist) RecordBlock(ctx context.Context, submitterID string) {
	count, err := w.rdb.Incr(ctx, infra.GetBlockCounterKey(submitterID)).Result()
	if err != nil {
		w.logger.Warn("block counter unavailable", zap.String("submitter", submitterID), zap.Error(err))
		return
	}
	if count < int64(w.threshold) {
		return
	}

	if err := w.rdb.SAdd(ctx, infra.RedisKeyWatchlistSubmitters, submitterID).Err(); err != nil {
		w.logger.Warn("watchlist sadd failed", zap.Error(err))
	}
	if err := w.rdb.Publish(ctx, infra.RedisChanWatchlist, submitterID+":on").Err(); err != nil {
		w.logger.Warn("watchlist signal publish failed", zap.Error(err))
	}

	// Локальный инстанс не ждет собственного сигнала
	w.mu.Lock()
	w.listed[submitterID] = struct{}{}
	w.mu.Unlock()

	w.logger.Info("submitter added to watchlist",
		zap.String("submitter", submitterID), zap.Int64("blocks", count))
}

// Remove снимает автора со списка (операторское решение)
func (w *Watchlist) Remove(ctx context.Context, submitterID string) error {
	if err := w.rdb.SRem(ctx, infra.RedisKeyWatchlistSubmitters, submitterID).Err(); err != nil {
		return fmt.Errorf("watchlist: srem: %w", err)
	}
	if err := w.rdb.Del(ctx, infra.GetBlockCounterKey(submitterID)).Err(); err != nil {
		w.logger.Warn("block counter reset failed", zap.Error(err))
	}
	if err := w.rdb.Publish(ctx, infra.RedisChanWatchlist, submitterID+":off").Err(); err != nil {
		w.logger.Warn("watchlist signal publish failed", zap.Error(err))
	}

	w.mu.Lock()
	delete(w.listed, submitterID)
	w.mu.Unlock()
	return nil
}
