package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepo — репозиторий Event Store поверх pgxpool.
// Единственный разделяемый мутабельный ресурс конвейера: вся сериализация
// конкурентных записей происходит здесь (условные UPDATE и row-level lock).
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создает пул соединений с заданными лимитами
func NewEventRepo(ctx context.Context, connString string, maxConns, minConns int32) (*EventRepo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &EventRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *EventRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *EventRepo) Close() {
	r.pool.Close()
}

// InitSchema выполняет явную инициализацию схемы один раз на старте процесса —
// никаких ленивых проверок "initialized" в горячем пути.
func (r *EventRepo) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS moderation_events (
			id UUID PRIMARY KEY,
			content_id TEXT NOT NULL,
			submitter_id TEXT NOT NULL,
			state TEXT NOT NULL,
			match_bank TEXT,
			match_hash TEXT,
			match_distance DOUBLE PRECISION,
			review_task_id TEXT UNIQUE,
			review_decision TEXT,
			action_taken TEXT NOT NULL DEFAULT '',
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			raw_engine_response JSONB,
			audit_trail JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// Оба индекса — горячий путь Reconciliation Handler:
		// поиск последнего события пары и поиск по ключу корреляции
		`CREATE INDEX IF NOT EXISTS idx_moderation_events_content
			ON moderation_events (content_id, submitter_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_moderation_events_state
			ON moderation_events (state)`,
		`CREATE TABLE IF NOT EXISTS pipeline_audit (
			id UUID PRIMARY KEY,
			trace_id TEXT NOT NULL DEFAULT '',
			content_id TEXT NOT NULL DEFAULT '',
			submitter_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			detail JSONB,
			error TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'operator',
			scopes JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: schema init failed: %w", err)
		}
	}
	return nil
}
