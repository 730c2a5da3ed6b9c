package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "modbridge"
)

// Ключи для Sets (состояние)
const (
	RedisKeyWatchlistSubmitters = RedisNamespace + ":submitters:watchlist_set"
	RedisKeyLockWatchlist       = RedisNamespace + ":lock:warmup:watchlist"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanWatchlist — канал сигналов включения/выключения авторов в watchlist.
	RedisChanWatchlist = RedisNamespace + ":submitters:watchlist-signal"
	// RedisChanReviewDecisions — канал для трансляции решений ревьюеров (HITL).
	RedisChanReviewDecisions = RedisNamespace + ":review:decisions"
)

// GetBlockCounterKey Счетчик решений BLOCK по автору
func GetBlockCounterKey(submitterID string) string {
	return fmt.Sprintf("%s:submitters:blocks:%s", RedisNamespace, submitterID)
}
