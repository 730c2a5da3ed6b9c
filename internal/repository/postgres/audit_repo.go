package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/modbridge/internal/audit"
)

// TrailRepo — отдельное соединение для пакетной записи аудит-трейла.
// Держим его на database/sql: батчевые вставки не конкурируют за пул
// горячего пути Event Store.
type TrailRepo struct {
	db *sql.DB
}

func NewTrailRepo(connString string) (*TrailRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open audit connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TrailRepo{db: db}, nil
}

func (r *TrailRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *TrailRepo) Close() error {
	return r.db.Close()
}

// WriteBatch — пакетная вставка записей аудита (Bulk Insert)
func (r *TrailRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице pipeline_audit
	numFields := 10
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		detail, _ := json.Marshal(e.Detail)

		vals = append(vals,
			e.ID, e.TraceID, e.ContentID, e.SubmitterID,
			e.Stage, e.Status, detail, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO pipeline_audit (id, trace_id, content_id, submitter_id, stage, status, detail, error, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}
